// Package main (cmd/storage-api) runs the storage gateway.
//
// The gateway serves /v1.0/storage backed by the local filesystem
// (--storage-type=file) or an S3-compatible object store (--storage-type=s3).
// Every flag can also be set through its environment variable, and a .env
// file in the working directory is loaded first when present.
//
// Upload scanning is available once a clamd address is configured, either as
// --clamd-address or as --clamd-host with --clamd-port.
//
// Example usage with the file backend:
//
//	storage-api --listen-addr 0.0.0.0:8080 \
//	  --file-storage-location /var/lib/storage \
//	  --file-external-url-base https://files.example.com/v1.0/storage
//
// Example usage with MinIO:
//
//	STORAGE_TYPE=s3 S3_BUCKET=gateway S3_ENDPOINT=http://minio:9000 \
//	S3_ACCESS_KEY=minio S3_SECRET_KEY=minio123 S3_FORCE_PATH_STYLE=true \
//	storage-api --jwt-secret "$JWT_SECRET"
//
// The server shuts down gracefully on SIGINT/SIGTERM.
package main

/*
Package httpserver implements the HTTP front of the storage gateway.

The storage API is mounted under /v1.0/storage:

	GET    /{bucket}/{file_id}?subdirectories=a,b&archive_name=x.zip
	GET    /{bucket}/{file_id}/external-url?subdirectories=a,b
	DELETE /{bucket}/{file_id}?subdirectories=a,b
	POST   /{bucket}?subdirectories=a,b&scan=True

A GET on a logical directory streams a zip archive of it as an attachment.
POST accepts a multipart form with any number of files and answers with the
save results grouped by form field; when one file fails, the files already
stored by the request are deleted again.

Errors are rendered as

	{"error_code": "...", "error_message": "..."}

with the status code carried by the interfaces.AppError. Absent files are a
404 NOT-FOUND, never an error of the backend.

When a JWT secret is configured, every storage route requires an HS256 bearer
token. Health routes stay public:

  - /health and /health/cascade/{depth} report the service and, recursively,
    its configured dependencies
  - /livez, /readyz, /drain and /undrain drive load balancer readiness

Every request carries a trace id (X-Trace-ID, generated when absent) which is
attached to all log records written while serving it.
*/
package httpserver

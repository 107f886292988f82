// Package common holds process-wide helpers: logger setup, trace id
// propagation and build metadata.
package common

// PackageName prefixes metric names.
const PackageName = "storage_gateway"

// Version is overridden at build time with -ldflags "-X ...common.Version=<v>".
var Version = "dev"

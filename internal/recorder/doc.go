// Package recorder persists decoded A-scan packets to disk as CSV.
package recorder

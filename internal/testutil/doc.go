// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing personas, scenarios and messages. They are
// not intended for production usage.
package testutil

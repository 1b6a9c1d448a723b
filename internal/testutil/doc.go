// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing message logs and scripting model
// gateway responses. They are not intended for production usage.
package testutil

// Package core carries scheduling options through a context.Context.
package core

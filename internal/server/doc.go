// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the page registry that maps the first URL segment (the action) to a
// configured page and its cache options. The registry can be swapped at
// runtime when the configuration file is reloaded; keep exports narrow and
// accept explicit dependencies.
package server

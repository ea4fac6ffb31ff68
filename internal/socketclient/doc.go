// Package socketclient is the host-facing facade over the Connection
// Manager. It builds the manager from configuration, logs its errors under
// the SOCKET category and republishes coordinator events on the host bus.
package socketclient

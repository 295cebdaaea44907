// Package clientip resolves the originating client address of an HTTP
// request behind reverse proxies.
//
// Headers are examined in order and the first valid address wins; a
// comma-separated header such as X-Forwarded-For yields its first valid
// entry. When no header carries an address the TCP peer is used.
//
//	r.Use(clientip.New("CF-Connecting-IP", "X-Forwarded-For"))
//
// The resolved address is stored in the request context and can be added
// to every log record with LoggerExtractor.
package clientip

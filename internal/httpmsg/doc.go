// Package httpmsg parses and rebuilds raw HTTP/1.1 messages without
// normalizing them. Header lines keep their original bytes, casing and
// order, so a rebuilt request differs from its source only in the one
// header being substituted.
package httpmsg

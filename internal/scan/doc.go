// Package scan is the worker side of the system: it decodes uploaded
// images, locates a QR code in them and replies with the text it carries.
package scan

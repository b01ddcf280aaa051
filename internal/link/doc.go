// Package link turns one physical transport into a framed, duplex MAVLink
// channel.
//
// Ownership boundary:
// - the Link contract and its error taxonomy
// - the stream link shared by every transport
// - per-transport dialers (tcp, usb serial, bluetooth rfcomm)
// - the Provider that selects a dialer from a Config
package link

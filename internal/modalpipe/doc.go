// Package modalpipe implements the local publish/subscribe pipe transport
// used by VOXL services.
//
// A pipe is a directory (normally under /run/mpa) holding:
//
//	info        JSON description: name, payload type, buffer size, server pid
//	data.sock   SOCK_SEQPACKET socket; every server write is one packet
//
// Clients connect with Open, announce a client name, and receive each packet
// through their OnData callback. Servers created with NewServer fan every
// Write out to all attached clients.
//
// The typed record layouts (MAVLinkMessage, IMUData, VIOData) and their
// validators split a received packet into whole records:
//
//	recs, err := modalpipe.ValidateIMU(packet)
//	if err != nil {
//	    // not an IMU packet
//	}
//
// # Thread Safety
//
// Client and Server are safe for concurrent use. Callbacks for one client
// run on that client's receive goroutine, in arrival order.
package modalpipe

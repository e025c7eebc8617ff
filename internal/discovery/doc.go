// Package discovery finds boards and simulators on the local network with
// mDNS, and advertises simulators so they can be found.
//
// Boards advertise the "_utboard._tcp" service. The TXT record carries the
// dialect, chassis and slot:
//
//	dialect=control chassis=1 slot=0 proto=1
//
// # Usage Example
//
//	boards, err := discovery.Scan(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, b := range boards {
//	    fmt.Println(b)
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Boards must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery

// UDP multicast metadata sink

package main

import (
	"encoding/binary"
	"net"
)

const sockMsgLength = 65507 // practical UDP datagram payload ceiling

// newMulticastSink dials a UDP socket to the configured multicast
// address:port and returns a deliver function. Small packages are sent as
// a single datagram; oversize ones are chunked with the "ssncchnk" header.
func newMulticastSink(addr string) (func(MetadataPackage), error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	return func(pkg MetadataPackage) {
		data := pkg.payload()
		length := len(data)

		if length <= sockMsgLength-8 {
			buf := make([]byte, 8+length)
			copy(buf[0:4], pkg.mtype[:])
			copy(buf[4:8], pkg.code[:])
			copy(buf[8:], data)
			if _, err := conn.Write(buf); err != nil {
				LogDebug("[METADATA:multicast] write failed: " + err.Error())
			}
			return
		}

		chunkPayload := sockMsgLength - 24
		chunkTotal := (length + chunkPayload - 1) / chunkPayload

		for ix := 0; ix < chunkTotal; ix++ {
			start := ix * chunkPayload
			end := start + chunkPayload
			if end > length {
				end = length
			}
			slice := data[start:end]

			buf := make([]byte, 24+len(slice))
			copy(buf[0:4], []byte("ssnc"))
			copy(buf[4:8], []byte("chnk"))
			binary.BigEndian.PutUint32(buf[8:12], uint32(ix))
			binary.BigEndian.PutUint32(buf[12:16], uint32(chunkTotal))
			copy(buf[16:20], pkg.mtype[:])
			copy(buf[20:24], pkg.code[:])
			copy(buf[24:], slice)

			if _, err := conn.Write(buf); err != nil {
				LogDebug("[METADATA:multicast] chunk write failed: " + err.Error())
				return
			}
		}
	}, nil
}

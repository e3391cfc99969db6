package relayclient

import (
	"net"
)

const pumpBufferSize = 8 * 1024

// pump shuttles bytes between the relay data connection and the local
// target until either direction hits EOF or an error, then closes both.
// Mirrors the server-side ingress pump: no half-close, short-coupled.
func pump(relayConn, localConn net.Conn) {
	done := make(chan struct{}, 2)
	go func() { copyUntilDone(localConn, relayConn); done <- struct{}{} }()
	go func() { copyUntilDone(relayConn, localConn); done <- struct{}{} }()
	<-done
	relayConn.Close()
	localConn.Close()
	<-done
}

func copyUntilDone(dst, src net.Conn) {
	buf := make([]byte, pumpBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if rerr != nil {
			return
		}
	}
}

package ioloop

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sockaddrStorageSize mirrors struct sockaddr_storage (128 bytes on
// Linux), the buffer size Accept and RecvMsg reserve for the kernel to
// fill in a peer socket address.
const sockaddrStorageSize = 128

// decodeSockaddr turns a raw sockaddr_storage buffer the kernel filled in
// (Accept's and RecvMsg's completions) into a net.Addr, following the same family switch
// as the address decoder this was supplemented from (grounded on
// cssivision/kask's driver/accept.rs _to_socket_addr).
func decodeSockaddr(buf []byte) (net.Addr, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("ioloop: sockaddr buffer too short")
	}
	family := binary.LittleEndian.Uint16(buf[0:2])

	switch family {
	case unix.AF_INET:
		if len(buf) < 16 {
			return nil, fmt.Errorf("ioloop: sockaddr_in buffer too short")
		}
		port := int(binary.BigEndian.Uint16(buf[2:4]))
		ip := net.IPv4(buf[4], buf[5], buf[6], buf[7])
		return &net.TCPAddr{IP: ip, Port: port}, nil

	case unix.AF_INET6:
		if len(buf) < 28 {
			return nil, fmt.Errorf("ioloop: sockaddr_in6 buffer too short")
		}
		port := int(binary.BigEndian.Uint16(buf[2:4]))
		ip := make(net.IP, 16)
		copy(ip, buf[8:24])
		scope := binary.LittleEndian.Uint32(buf[24:28])
		return &net.TCPAddr{IP: ip, Port: port, Zone: scopeName(scope)}, nil

	default:
		return nil, fmt.Errorf("ioloop: unsupported address family %d", family)
	}
}

func scopeName(scopeID uint32) string {
	if scopeID == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(scopeID)); err == nil {
		return iface.Name
	}
	return fmt.Sprintf("%d", scopeID)
}

// encodeSockaddr builds a raw sockaddr buffer for addr, for Connect's
// submission descriptor to point the kernel at.
func encodeSockaddr(addr *net.TCPAddr) ([]byte, error) {
	if v4 := addr.IP.To4(); v4 != nil {
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(addr.Port))
		copy(buf[4:8], v4)
		return buf, nil
	}

	v6 := addr.IP.To16()
	if v6 == nil {
		return nil, fmt.Errorf("ioloop: invalid IP address %v", addr.IP)
	}
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET6)
	binary.BigEndian.PutUint16(buf[2:4], uint16(addr.Port))
	copy(buf[8:24], v6)
	return buf, nil
}

package dispatcher

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// PROXY protocol v2 header, opaque to us: it is prepended to the backend
// stream so the backend can learn the original client address, never parsed
// or acted on here.

var proxyV2Signature = [12]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

const (
	proxyV2VersionCommand byte = 0x21 // version 2, command PROXY
	proxyV2FamilyTCP4     byte = 0x11 // AF_INET, STREAM
	proxyV2FamilyTCP6     byte = 0x21 // AF_INET6, STREAM
)

func writeProxyHeaderV2(w io.Writer, src net.Addr, dst net.Addr) error {
	srcTCP, ok := src.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("proxy protocol: unsupported source address %T", src)
	}
	dstTCP, ok := dst.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("proxy protocol: unsupported destination address %T", dst)
	}

	var (
		family   byte
		addrsLen uint16
		addrs    []byte
	)
	if src4, dst4 := srcTCP.IP.To4(), dstTCP.IP.To4(); src4 != nil && dst4 != nil {
		family = proxyV2FamilyTCP4
		addrsLen = 12
		addrs = append(addrs, src4...)
		addrs = append(addrs, dst4...)
	} else {
		family = proxyV2FamilyTCP6
		addrsLen = 36
		addrs = append(addrs, srcTCP.IP.To16()...)
		addrs = append(addrs, dstTCP.IP.To16()...)
	}
	addrs = binary.BigEndian.AppendUint16(addrs, uint16(srcTCP.Port))
	addrs = binary.BigEndian.AppendUint16(addrs, uint16(dstTCP.Port))

	header := make([]byte, 0, 16+addrsLen)
	header = append(header, proxyV2Signature[:]...)
	header = append(header, proxyV2VersionCommand, family)
	header = binary.BigEndian.AppendUint16(header, addrsLen)
	header = append(header, addrs...)

	_, err := w.Write(header)
	if err != nil {
		return fmt.Errorf("proxy protocol: failed to write header: %w", err)
	}
	return nil
}

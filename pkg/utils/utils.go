package utils

import (
	"net"
	"net/netip"
)

// Number is any number type that can be compared against zero.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// SetDefaultNum sets *p to d if *p is zero.
func SetDefaultNum[T Number](p *T, d T) {
	if *p == 0 {
		*p = d
	}
}

// GetAddrFromAddr returns a netip.Addr from the given net.Addr.
// It returns a zero value if the address cannot be parsed.
func GetAddrFromAddr(addr net.Addr) netip.Addr {
	switch v := addr.(type) {
	case *net.UDPAddr:
		a, _ := netip.AddrFromSlice(v.IP)
		return a.Unmap()
	case *net.TCPAddr:
		a, _ := netip.AddrFromSlice(v.IP)
		return a.Unmap()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return netip.Addr{}
		}
		a, _ := netip.ParseAddr(host)
		return a.Unmap()
	}
}

package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type boards and simulators advertise.
	ServiceType = "_utboard._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for board discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is the board protocol port when none is advertised.
	DefaultPort = 23
)

// Scanner handles mDNS board discovery
type Scanner struct {
	Service string
	Domain  string

	// Timeout is the maximum time to wait for board discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Service: ServiceType,
		Domain:  ServiceDomain,
		Timeout: DefaultScanTimeout,
	}
}

// Scan discovers all boards on the local network until the timeout or ctx
// expires.
func (s *Scanner) Scan(ctx context.Context) ([]*Board, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)

	var mu sync.Mutex
	boards := make([]*Board, 0)
	seen := make(map[string]bool)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			board := parseServiceEntry(entry)
			if board == nil {
				continue
			}
			mu.Lock()
			if !seen[board.Address()] {
				seen[board.Address()] = true
				boards = append(boards, board)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, s.Service, s.Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Board(nil), boards...), nil
}

// WaitForBoard waits for the board advertised under instance.
func (s *Scanner) WaitForBoard(ctx context.Context, instance string) (*Board, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Board, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			board := parseServiceEntry(entry)
			if board != nil && board.Instance == instance {
				select {
				case found <- board:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, s.Service, s.Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case board := <-found:
		return board, nil
	case <-ctx.Done():
		select {
		case board := <-found:
			return board, nil
		default:
		}
		return nil, fmt.Errorf("board %s not found within timeout", instance)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Board.
// Returns nil if the entry carries no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Board {
	if entry == nil {
		return nil
	}

	// Prefer IPv4
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := parseTXT(entry.Text)

	board := &Board{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Dialect:      metadata["dialect"],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
	if board.Dialect == "" {
		board.Dialect = "ut"
	}
	board.Chassis, _ = strconv.Atoi(metadata["chassis"])
	board.Slot, _ = strconv.Atoi(metadata["slot"])
	return board
}

// parseTXT splits "key=value" TXT records. A key without value maps to "".
func parseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	return metadata
}

// TXTRecords builds the TXT record advertised for a board.
func TXTRecords(dialect string, chassis, slot int) []string {
	return []string{
		"dialect=" + dialect,
		"chassis=" + strconv.Itoa(chassis),
		"slot=" + strconv.Itoa(slot),
		"proto=1",
	}
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance on port under the given service. Call
// Shutdown to withdraw it.
func Advertise(instance, service, domain string, port int, txt []string) (*Advertisement, error) {
	if service == "" {
		service = ServiceType
	}
	if domain == "" {
		domain = ServiceDomain
	}
	server, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to advertise %s: %w", instance, err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Scan is a convenience function to scan with a custom timeout
func Scan(ctx context.Context, timeout time.Duration) ([]*Board, error) {
	scanner := NewScanner()
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.Scan(ctx)
}

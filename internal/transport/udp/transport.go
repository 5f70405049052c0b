package udp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// Handler processes one received RTPS message payload from a source
// address.
type Handler func(src *net.UDPAddr, payload []byte)

// Config configures the three-socket plane for one participant (§4.9).
type Config struct {
	DomainID         int
	ParticipantIndex int
	TTL              int // multicast TTL; 0 keeps the OS default
	MulticastGroup   string
	Logger           *slog.Logger
}

// Transport owns the three UDP sockets of one participant: metatraffic
// multicast, metatraffic unicast, and user-data unicast (§4.9). No
// user-data multicast socket is opened; user-data is always sent unicast
// (§4.9's writer-dispatch rule).
type Transport struct {
	cfg Config
	log *slog.Logger

	metaMC   *net.UDPConn
	metaUC   *net.UDPConn
	userUC   *net.UDPConn
	groupAddr *net.UDPAddr

	wg     sync.WaitGroup
	closed chan struct{}
}

// Open binds all three sockets per the RTPS v2.5 port mapping (§6.2) and
// joins the metatraffic multicast socket to the configured group.
func Open(cfg Config) (*Transport, error) {
	if cfg.MulticastGroup == "" {
		cfg.MulticastGroup = DefaultMulticastGroup
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ports := ComputePortMapping(cfg.DomainID, cfg.ParticipantIndex)

	groupAddr := &net.UDPAddr{IP: net.ParseIP(cfg.MulticastGroup), Port: ports.MetatrafficMulticast}

	metaMC, err := net.ListenMulticastUDP("udp4", nil, groupAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: metatraffic multicast listen: %w", err)
	}
	if cfg.TTL > 0 {
		if pc := ipv4.NewPacketConn(metaMC); pc != nil {
			_ = pc.SetMulticastTTL(cfg.TTL)
		}
	}

	metaUC, err := net.ListenUDP("udp4", &net.UDPAddr{Port: ports.MetatrafficUnicast})
	if err != nil {
		metaMC.Close()
		return nil, fmt.Errorf("udp: metatraffic unicast listen: %w", err)
	}

	userUC, err := net.ListenUDP("udp4", &net.UDPAddr{Port: ports.UserDataUnicast})
	if err != nil {
		metaMC.Close()
		metaUC.Close()
		return nil, fmt.Errorf("udp: user-data unicast listen: %w", err)
	}

	return &Transport{
		cfg:       cfg,
		log:       cfg.Logger,
		metaMC:    metaMC,
		metaUC:    metaUC,
		userUC:    userUC,
		groupAddr: groupAddr,
		closed:    make(chan struct{}),
	}, nil
}

// Close stops all receive loops and closes the sockets.
func (t *Transport) Close() error {
	close(t.closed)
	t.metaMC.Close()
	t.metaUC.Close()
	t.userUC.Close()
	t.wg.Wait()
	return nil
}

// ServeMetatrafficMulticast, ServeMetatrafficUnicast, and
// ServeUserDataUnicast each run a blocking receive loop on their socket,
// invoking handler for every datagram, until Close is called.
func (t *Transport) ServeMetatrafficMulticast(handler Handler) { t.serve(t.metaMC, handler) }
func (t *Transport) ServeMetatrafficUnicast(handler Handler)   { t.serve(t.metaUC, handler) }
func (t *Transport) ServeUserDataUnicast(handler Handler)      { t.serve(t.userUC, handler) }

func (t *Transport) serve(conn *net.UDPConn, handler Handler) {
	t.wg.Add(1)
	defer t.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-t.closed:
			return
		default:
		}
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.log.Warn("udp: read error", "error", err)
				continue
			}
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		handler(src, payload)
	}
}

// SendUserData unicasts a user-data message to a locator. Per the §4.9
// writer-dispatch rule, user-data is always sent unicast to known peers;
// multicast fallback (when no peers are discovered yet) is the caller's
// responsibility via SendMetatrafficMulticast to the discovery group.
func (t *Transport) SendUserData(loc ddsid.Locator, payload []byte) error {
	return sendTo(t.userUC, loc, payload)
}

// SendMetatrafficUnicast unicasts a discovery (SPDP/SEDP) message.
func (t *Transport) SendMetatrafficUnicast(loc ddsid.Locator, payload []byte) error {
	return sendTo(t.metaUC, loc, payload)
}

// SendMetatrafficMulticast sends a discovery message to the metatraffic
// multicast group (§4.9: "Discovery always uses multicast").
func (t *Transport) SendMetatrafficMulticast(payload []byte) error {
	_, err := t.metaMC.WriteToUDP(payload, t.groupAddr)
	return err
}

func sendTo(conn *net.UDPConn, loc ddsid.Locator, payload []byte) error {
	a, b, c, d, ok := loc.IPv4()
	if !ok {
		return fmt.Errorf("udp: locator is not UDPv4: %s", loc)
	}
	addr := &net.UDPAddr{IP: net.IPv4(a, b, c, d), Port: int(loc.Port)}
	_, err := conn.WriteToUDP(payload, addr)
	return err
}

// MetatrafficUnicastPort and UserDataUnicastPort expose the bound ports
// so discovery can advertise them in SPDP locators.
func (t *Transport) MetatrafficUnicastPort() int {
	return t.metaUC.LocalAddr().(*net.UDPAddr).Port
}

func (t *Transport) UserDataUnicastPort() int {
	return t.userUC.LocalAddr().(*net.UDPAddr).Port
}

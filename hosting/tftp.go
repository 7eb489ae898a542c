package hosting

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/pin/tftp/v3"
)

type TFTPServer struct {
	Dir  string
	Bind string
	Port int

	addr    string
	mut     sync.Mutex
	fetched map[string]bool
}

func NewTFTP(dir, bind string, port int) *TFTPServer {
	return &TFTPServer{Dir: dir, Bind: bind, Port: port, fetched: make(map[string]bool)}
}

// Start binds the TFTP socket and returns once it is listening; a bind
// failure surfaces here, before any upgrade is triggered. Port 69 needs
// root, same as any standard TFTP daemon. Serving continues for the
// process lifetime.
func (t *TFTPServer) Start() error {
	conn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", t.Bind, t.Port))
	if err != nil {
		return fmt.Errorf("tftp server: %w", err)
	}
	t.addr = conn.LocalAddr().String()
	server := tftp.NewServer(t.readHandler, nil)
	go func() {
		if err := server.Serve(conn); err != nil {
			log.Warningf("TFTP server stopped: %v", err)
		}
	}()
	log.Infof("TFTP server running at %s, serving %s", t.addr, t.Dir)
	return nil
}

// Addr is the bound listen address, available after Start.
func (t *TFTPServer) Addr() string {
	return t.addr
}

func (t *TFTPServer) readHandler(filename string, rf io.ReaderFrom) error {
	// Requests are flattened to a bare filename; the device has no business
	// outside the firmware directory.
	name := path.Base(filename)
	f, err := os.Open(filepath.Join(t.Dir, name))
	if err != nil {
		log.Warningf("TFTP request for %s: %v", name, err)
		return err
	}
	defer f.Close()
	n, err := rf.ReadFrom(f)
	if err != nil {
		log.Warningf("TFTP transfer of %s failed: %v", name, err)
		return err
	}
	t.mut.Lock()
	t.fetched[name] = true
	t.mut.Unlock()
	log.Infof("TFTP served %s (%d bytes)", name, n)
	return nil
}

func (t *TFTPServer) Served(file string) bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.fetched[file]
}

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	gote "github.com/morganhein/go-telnet"
	"golang.org/x/crypto/ssh"

	"github.com/chrisdefazio/adtranfirmwareupgrader/logger"
	"github.com/chrisdefazio/adtranfirmwareupgrader/pubsub"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

var log schema.Logger

func init() {
	log = logger.Log
}

// Settle delays. The devices emit output asynchronously with no framing, so
// every open/write/close waits a fixed moment for the stream to catch up.
var (
	bannerSettle = 2 * time.Second
	writeSettle  = 1 * time.Second
	closeSettle  = 2 * time.Second
)

// shell owns exactly one live transport connection and one shell channel.
type shell struct {
	ssh struct {
		config  *ssh.ClientConfig
		client  *ssh.Client
		session *ssh.Session
	}
	telnet struct {
		conn net.Conn
	}
	opts      schema.ConnectOptions
	stdin     io.WriteCloser
	publisher *pubsub.Publisher
	shutdown  chan bool
	attachWg  *sync.WaitGroup
	mut       sync.Mutex
	closed    bool
}

func connectShell(options schema.ConnectOptions) (schema.Session, error) {
	switch options.Method {
	case schema.Telnet:
		return connectTelnet(options)
	default:
		return connectSSH(options)
	}
}

// CreateSSHConfig builds the client config for a gateway shell. Password
// auth is tried first; when the server only offers keyboard-interactive,
// every challenge is answered with the same password regardless of the
// prompt wording. Unknown prompt, known answer.
func CreateSSHConfig(options schema.ConnectOptions) *ssh.ClientConfig {
	password := options.Credentials.Password
	return &ssh.ClientConfig{
		User: options.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         options.Timeout,
	}
}

func connectSSH(options schema.ConnectOptions) (schema.Session, error) {
	if options.Port == 0 {
		options.Port = 22
	}
	s := &shell{opts: options}
	s.ssh.config = CreateSSHConfig(options)
	host := fmt.Sprint(options.Endpoint.Address, ":", options.Port)
	log.Debug("Dialing ", host)
	conn, err := ssh.Dial("tcp", host, s.ssh.config)
	if err != nil {
		return nil, classifyDialError(err)
	}
	s.ssh.client = conn
	s.ssh.session, err = conn.NewSession()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create session: %v: %w", err, schema.ErrTransport)
	}
	stdin, _ := s.ssh.session.StdinPipe()
	stdout, _ := s.ssh.session.StdoutPipe()
	stderr, _ := s.ssh.session.StderrPipe()
	s.stdin = stdin

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,     // disable echoing
		ssh.TTY_OP_ISPEED: 14400, // input speed = 14.4kbaud
		ssh.TTY_OP_OSPEED: 14400, // output speed = 14.4kbaud
	}
	if err := s.ssh.session.RequestPty("xterm", 0, 80, modes); err != nil {
		s.ssh.session.Close()
		conn.Close()
		return nil, fmt.Errorf("request for pseudo terminal failed: %v: %w", err, schema.ErrTransport)
	}
	if err := s.ssh.session.Shell(); err != nil {
		s.ssh.session.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to start shell: %v: %w", err, schema.ErrTransport)
	}

	s.attach(stdout, stderr)
	log.Info("SSH session created.")

	// Let the device finish its banner, then discard it. Nothing subscribes
	// yet, so the chunks fall through to the console echo only.
	time.Sleep(bannerSettle)
	return s, nil
}

func connectTelnet(options schema.ConnectOptions) (schema.Session, error) {
	if options.Port == 0 {
		options.Port = 23
	}
	host := fmt.Sprintf("%v:%v", options.Endpoint.Address, options.Port)
	conn, err := gote.Dial("tcp", host)
	if err != nil {
		return nil, classifyDialError(err)
	}
	s := &shell{opts: options}
	s.telnet.conn = conn
	s.stdin = conn
	s.attach(conn, nil)
	log.Debug("TCP connected, trying to login.")

	// Telnet login prompts are free-form text like everything else, so they
	// are answered the same way commands are framed: write, wait for quiet.
	time.Sleep(bannerSettle)
	s.Execute(options.Credentials.Username, 2*time.Second, 10*time.Second)
	res := s.Execute(options.Credentials.Password, 2*time.Second, 10*time.Second)
	lower := strings.ToLower(res.Output)
	if strings.Contains(lower, "incorrect") || strings.Contains(lower, "login:") ||
		strings.Contains(lower, "denied") {
		s.Close()
		return nil, fmt.Errorf("telnet login rejected: %w", schema.ErrAuthenticationFailed)
	}
	log.Info("Telnet session created.")
	return s, nil
}

func (s *shell) attach(stdout, stderr io.Reader) {
	s.publisher = pubsub.New(s.opts.Endpoint.Address)
	s.shutdown = make(chan bool, 1)
	s.attachWg = &sync.WaitGroup{}
	go s.publisher.Attach(stdout, stderr, s.shutdown, s.attachWg)
}

func classifyDialError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "handshake failed: ssh:") {
		return fmt.Errorf("%v: %w", err, schema.ErrAuthenticationFailed)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, schema.ErrConnectTimeout)
	}
	if strings.Contains(msg, "i/o timeout") {
		return fmt.Errorf("%v: %w", err, schema.ErrConnectTimeout)
	}
	return fmt.Errorf("%v: %w", err, schema.ErrTransport)
}

func (s *shell) Options() schema.ConnectOptions {
	return s.opts
}

func (s *shell) open() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return !s.closed
}

// Close is idempotent and tolerates a transport that already died under us
// (the device reboots mid-session during an upgrade). It sleeps afterwards
// so the physical link quiesces; probing too soon after teardown can report
// the device falsely reachable.
func (s *shell) Close() error {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return nil
	}
	s.closed = true
	s.mut.Unlock()

	if s.telnet.conn != nil {
		_, _ = s.stdin.Write([]byte("exit\r"))
		_ = s.telnet.conn.Close()
	}
	if s.ssh.session != nil {
		_ = s.ssh.session.Close()
	}
	if s.ssh.client != nil {
		_ = s.ssh.client.Close()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	select {
	case s.shutdown <- true:
	default:
	}
	s.attachWg.Wait()
	time.Sleep(closeSettle)
	log.Debug("Session closed.")
	return nil
}

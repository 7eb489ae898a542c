package pubsub

import (
	"io"
	"sync"
	"time"

	"github.com/chrisdefazio/adtranfirmwareupgrader/logger"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

var log schema.Logger

type Publisher struct {
	source string
	input  chan schema.OutputEvent
	s      map[int]chan schema.OutputEvent
	next   int
	mut    sync.RWMutex
}

type subscriber struct {
	s    map[int]chan schema.OutputEvent
	next int
	mut  sync.RWMutex
}

var sub subscriber

func init() {
	log = logger.Log
	sub = subscriber{
		s:   make(map[int]chan schema.OutputEvent, 2),
		mut: sync.RWMutex{},
	}
}

// New creates a new publisher for one shell stream. Attach() begins
// publishing chunks read from the stream.
func New(source string) *Publisher {
	return &Publisher{
		source: source,
		input:  make(chan schema.OutputEvent, 64),
		s:      make(map[int]chan schema.OutputEvent, 2),
		mut:    sync.RWMutex{},
	}
}

// Subscribe adds another listener to this publisher, chunks to be passed via
// the channel. The id of this subscription is returned, which may be used to
// unsubscribe.
func (p *Publisher) Subscribe(s chan schema.OutputEvent) (id int) {
	p.mut.Lock()
	defer p.mut.Unlock()
	id = p.next
	p.next++
	p.s[id] = s
	log.Debug("Subscribing with id ", id)
	return id
}

func (p *Publisher) Unsubscribe(id int) {
	log.Debug("Unsubscribing from id ", id)
	p.mut.Lock()
	defer p.mut.Unlock()
	if _, ok := p.s[id]; ok {
		delete(p.s, id)
	}
}

// Attach creates the chunk readers for the shell's output streams and begins
// distributing chunks to all subscribers. It returns when the shutdown
// channel fires or the primary stream reaches EOF.
func (p *Publisher) Attach(stdout, stderr io.Reader, shutdown chan bool, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	readerDone := make(chan struct{})
	go p.attachReader(stdout, readerDone)
	if stderr != nil {
		go p.attachReader(stderr, make(chan struct{}))
	}

	for {
		select {
		case <-shutdown:
			log.Debug("Publisher shutting down.")
			return
		case <-readerDone:
			log.Debug("Shell stream closed, publisher stopping.")
			return
		case e := <-p.input:
			p.fanout(e)
		}
	}
}

func (p *Publisher) fanout(e schema.OutputEvent) {
	p.mut.RLock()
	for _, s := range p.s {
		if len(s) < cap(s) {
			s <- e
		}
	}
	p.mut.RUnlock()
	sub.mut.RLock()
	// Send to the externally subscribed listeners (console echo, logging).
	for _, s := range sub.s {
		if len(s) < cap(s) {
			s <- e
		}
	}
	sub.mut.RUnlock()
}

func (p *Publisher) attachReader(r io.Reader, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.input <- schema.OutputEvent{
				Data: string(buf[:n]),
				Time: time.Now(),
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("Reader loop closing: ", err)
			}
			return
		}
	}
}

// Subscribe adds a listener for all publishers. This is used for the live
// console echo and third party logging.
func Subscribe(s chan schema.OutputEvent) (id int) {
	sub.mut.Lock()
	defer sub.mut.Unlock()
	id = sub.next
	sub.next++
	sub.s[id] = s
	return id
}

func Unsubscribe(id int) {
	sub.mut.Lock()
	defer sub.mut.Unlock()
	if _, ok := sub.s[id]; ok {
		delete(sub.s, id)
	}
}

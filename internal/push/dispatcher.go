package push

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Task is one outbound push delivery: a subscriber identity, a payload,
// and how long the push service should hold it.
type Task struct {
	Endpoint string
	Auth     []byte
	P256DH   []byte
	Payload  []byte
	TTL      time.Duration
	// Tag identifies the check this push originated from, for logging only.
	Tag string
}

// PurgeFunc deletes the (endpoint, auth) subscription; called when the
// push service reports the subscription is gone.
type PurgeFunc func(endpoint string, auth []byte)

// Dispatcher is a single-consumer worker: producers enqueue tasks from
// inside the log-write transaction without blocking on network I/O; one
// goroutine drains the queue and performs the encrypt + POST.
type Dispatcher struct {
	tasks  chan Task
	stop   chan struct{}
	done   chan struct{}

	serverKey   *ecdsa.PrivateKey
	subject     string
	jwtLifetime time.Duration
	client      *http.Client
	purge       PurgeFunc
}

// NewDispatcher builds a Dispatcher with a bounded task queue of the given
// capacity. serverKey and subject parameterize the VAPID header; jwtLifetime
// is the JWT's validity window.
func NewDispatcher(serverKey *ecdsa.PrivateKey, subject string, jwtLifetime time.Duration, queueSize int, purge PurgeFunc) *Dispatcher {
	return &Dispatcher{
		tasks:       make(chan Task, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		serverKey:   serverKey,
		subject:     subject,
		jwtLifetime: jwtLifetime,
		client:      &http.Client{Timeout: 30 * time.Second},
		purge:       purge,
	}
}

// Enqueue offers task to the queue without blocking. Returns false if the
// queue is full, in which case the task is dropped (at-most-once delivery)
// and the drop is logged — this must never block since it is called from
// the log-write transaction.
func (d *Dispatcher) Enqueue(task Task) bool {
	select {
	case d.tasks <- task:
		return true
	default:
		log.Printf("push: dispatcher queue full, dropping task for %s", task.Tag)
		return false
	}
}

// Start runs the single consumer loop until Stop is called.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for {
			select {
			case task := <-d.tasks:
				d.deliver(task)
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop signals the consumer to exit and waits for it to drain its current
// task. Queued-but-unstarted tasks are discarded.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) deliver(task Task) {
	body, err := Encrypt(task.P256DH, task.Auth, task.Payload)
	if err != nil {
		log.Printf("push: encrypting for %s: %v", task.Tag, err)
		return
	}
	auth, err := AuthHeader(d.serverKey, task.Endpoint, d.subject, d.jwtLifetime)
	if err != nil {
		log.Printf("push: building VAPID header for %s: %v", task.Tag, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, task.Endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("push: building request for %s: %v", task.Tag, err)
		return
	}
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", auth)
	req.Header.Set("TTL", strconv.Itoa(int(task.TTL.Seconds())))

	resp, err := d.client.Do(req)
	if err != nil {
		// Transport-level failure: logged and dropped rather than retried.
		log.Printf("push: sending to %s: %v", task.Tag, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Printf("push: endpoint for %s responded with %d: %s", task.Tag, resp.StatusCode, respBody)

	// An explicit rejection — most commonly 404/410 for a subscription the
	// push service has forgotten — purges the subscription. Other non-2xx
	// responses are logged but otherwise left alone.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if d.purge != nil {
			d.purge(task.Endpoint, task.Auth)
		}
	}
}

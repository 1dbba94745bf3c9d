package mpi

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// dialRetry is the pause between attempts to reach a node that is not
// listening yet.
const dialRetry = 300 * time.Millisecond

// Network implements the MPI protocol using network calls provided by the net
// package in the standard library. Network creates an all-to-all connection
// using the specified network protocol among all provided addresses. Network
// uses encoding/gob for (de)serialization, and so some network protocols may
// not be appropriate. Network is not built with security in mind, but it does
// confirm that every node was started with the same password before
// accepting a connection.
//
// Every pair of nodes shares two connections. A node sends messages on the
// connection it dialed and receives them on the one it accepted; receipt
// confirmations travel back on the same connection as the message. One
// reader goroutine per connection routes incoming messages to the tag they
// were sent with, so messages may arrive before the matching Receive is
// posted.
//
// Network uses the flags provided. It takes the values provided by the flags
// if the zero values are present for the network values.
type Network struct {
	NetProto string        // Which network protocol to use (see net package for options)
	Addr     string        // Address of the local process
	Addrs    []string      // List of the addresses of all nodes. Addr must be among them
	Timeout  time.Duration // If set, Init fails if the connections are not made within the duration

	Password       string
	hashedPassword string

	myrank int // rank of this process
	nNodes int // total number of processes

	connections []*pairwiseConnection // connections to all of the nodes, self included
	mux         sync.Mutex            // guards connections while Init runs
	closed      atomic.Bool
}

func (n *Network) Rank() int {
	if n.nNodes == 0 {
		return -1
	}
	return n.myrank
}

func (n *Network) Size() int {
	return n.nNodes
}

// tagManager is used to manage tagged messages between this node and one
// peer. Each tag has a channel with room for a single message, so delivering
// never waits for the local side to post its call.
type tagManager struct {
	CommMap map[int]*tagEntry
	Mux     *sync.Mutex
}

type tagEntry struct {
	c       chan []byte
	claimed bool
}

func newTagManager() *tagManager {
	return &tagManager{
		CommMap: make(map[int]*tagEntry),
		Mux:     &sync.Mutex{},
	}
}

// entry returns the entry of the tag, creating it if needed. Mux must be held.
func (t *tagManager) entry(tag int) *tagEntry {
	e, ok := t.CommMap[tag]
	if !ok {
		e = &tagEntry{c: make(chan []byte, 1)}
		t.CommMap[tag] = e
	}
	return e
}

// Claim marks the tag as used by a local call and returns its channel. The
// tag stays claimed until Delete.
func (t *tagManager) Claim(tag, peer int) (chan []byte, error) {
	t.Mux.Lock()
	defer t.Mux.Unlock()
	e := t.entry(tag)
	if e.claimed {
		return nil, TagExists{Tag: tag, Peer: peer}
	}
	e.claimed = true
	return e.c, nil
}

// Channel returns the channel for that tag, whether or not it has been
// claimed yet.
func (t *tagManager) Channel(tag int) chan []byte {
	t.Mux.Lock()
	defer t.Mux.Unlock()
	return t.entry(tag).c
}

// Lookup returns the channel of a claimed tag.
func (t *tagManager) Lookup(tag int) (chan []byte, bool) {
	t.Mux.Lock()
	defer t.Mux.Unlock()
	e, ok := t.CommMap[tag]
	if !ok || !e.claimed {
		return nil, false
	}
	return e.c, true
}

// Delete removes the tag from the map
func (t *tagManager) Delete(tag int) {
	t.Mux.Lock()
	defer t.Mux.Unlock()
	delete(t.CommMap, tag)
}

// wire is one connection together with the gob streams that use it. A gob
// decoder reads ahead of the values it has returned, so each connection keeps
// a single encoder and a single decoder for its whole life.
type wire struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
	mux  sync.Mutex // guards enc
}

func newWire(conn net.Conn) *wire {
	return &wire{
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
	}
}

func (w *wire) send(v interface{}) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.enc.Encode(v)
}

type pairwiseConnection struct {
	dial        *wire // Send on
	listen      *wire // Receive from
	receivetags *tagManager
	sendtags    *tagManager
}

// Init implements the Mpi init function
func (n *Network) Init() error {
	// First, deal with flags
	if n.NetProto == "" {
		n.NetProto = FlagProtocol
	}
	if n.Password == "" {
		n.Password = FlagPassword
	}
	if n.Timeout == 0 {
		n.Timeout = time.Duration(FlagInitTimeout)
	}
	if n.Addr == "" {
		n.Addr = FlagAddr
	}
	if len(n.Addrs) == 0 {
		n.Addrs = FlagAllAddrs
	}
	if len(n.Addrs) == 0 {
		return errors.New("mpi init: no addresses given")
	}

	n.hashedPassword = hashPassword(n.Password)

	// Sort a private copy of the addresses so all processes agree on the ranks
	addrs := make([]string, len(n.Addrs))
	copy(addrs, n.Addrs)
	sort.Strings(addrs)
	n.Addrs = addrs

	for i := 0; i < len(addrs)-1; i++ {
		if addrs[i] == addrs[i+1] {
			return errors.Errorf("mpi init: address %s given twice", addrs[i])
		}
	}

	// Rank is the order in the list
	n.myrank = sort.SearchStrings(addrs, n.Addr)
	if !(n.myrank < len(addrs) && addrs[n.myrank] == n.Addr) {
		return errors.Errorf("mpi init: local address %q not in global list", n.Addr)
	}

	n.nNodes = len(addrs)
	n.closed.Store(false)

	err := n.startConnections()
	if err != nil {
		n.close()
		n.nNodes = 0
		return err
	}

	for i := range n.connections {
		if i == n.myrank {
			continue
		}
		go n.receiveReader(i)
		go n.confirmationReader(i)
	}
	klog.V(1).Infof("mpi: node %d of %d up at %s", n.myrank, n.nNodes, n.Addr)
	return nil
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte("hellohpc/mpi:" + password))
	return hex.EncodeToString(sum[:])
}

func (n *Network) startConnections() error {
	n.connections = make([]*pairwiseConnection, n.nNodes)
	for i := range n.connections {
		n.connections[i] = &pairwiseConnection{
			receivetags: newTagManager(),
			sendtags:    newTagManager(),
		}
	}
	if n.nNodes == 1 {
		return nil
	}

	// Listen before dialing anyone, then accept and dial concurrently to
	// build the bi-way all-to-all connections
	listener, err := net.Listen(n.NetProto, n.Addr)
	if err != nil {
		return errors.Wrap(err, "mpi init: error listening")
	}
	defer listener.Close()

	var g errgroup.Group
	g.Go(func() error {
		return n.establishListenConnections(listener)
	})
	g.Go(n.establishDialConnections)
	return g.Wait()
}

type initialMessage struct {
	Password string
	Id       int
}

// establishListenConnections accepts one connection from every other node
func (n *Network) establishListenConnections(listener net.Listener) error {
	// A deadline on the listener keeps Init from freezing when the
	// all-to-all connection can't happen
	if n.Timeout > 0 {
		if dl, ok := listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(n.Timeout))
		}
	}

	var g errgroup.Group
	var acceptErr error
	for i := 0; i < n.nNodes-1; i++ {
		conn, err := listener.Accept()
		if err != nil {
			// All-to-all needs to happen, so if there's an error break
			acceptErr = errors.Wrap(err, "mpi init: error accepting")
			break
		}
		g.Go(func() error {
			return n.handshakeListen(conn)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return acceptErr
}

func (n *Network) handshakeListen(conn net.Conn) error {
	w := newWire(conn)
	if n.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(n.Timeout))
		defer conn.SetDeadline(time.Time{})
	}

	var message initialMessage
	if err := w.dec.Decode(&message); err != nil {
		conn.Close()
		return errors.Wrap(err, "mpi init: reading handshake")
	}
	id, err := n.passwordAndId(message)
	if err != nil {
		conn.Close()
		return err
	}

	n.mux.Lock()
	if n.connections[id].listen != nil {
		n.mux.Unlock()
		conn.Close()
		return errors.Errorf("mpi init: node %d connected twice", id)
	}
	n.connections[id].listen = w
	n.mux.Unlock()

	// Send back a handshake the other way
	err = w.send(initialMessage{
		Password: n.hashedPassword,
		Id:       n.myrank,
	})
	return errors.Wrapf(err, "mpi init: answering handshake of node %d", id)
}

// establishDialConnections dials every other node concurrently
func (n *Network) establishDialConnections() error {
	var g errgroup.Group
	for i := 0; i < n.nNodes; i++ {
		if i == n.myrank {
			continue // Don't dial yourself
		}
		i := i
		g.Go(func() error {
			return n.dial(i)
		})
	}
	return g.Wait()
}

func (n *Network) dial(i int) error {
	// Keep dialing until a connection is reached or the timeout passes
	var conn net.Conn
	var err error
	start := time.Now()
	for {
		conn, err = net.DialTimeout(n.NetProto, n.Addrs[i], n.Timeout)
		if err == nil || (n.Timeout > 0 && time.Since(start) > n.Timeout) {
			break
		}
		time.Sleep(dialRetry)
	}
	if err != nil {
		return errors.Wrapf(err, "mpi init: dialing node %d at %s", i, n.Addrs[i])
	}

	w := newWire(conn)
	if n.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(n.Timeout))
		defer conn.SetDeadline(time.Time{})
	}

	// Established the connection, send the first handshake message
	err = w.send(initialMessage{
		Password: n.hashedPassword,
		Id:       n.myrank,
	})
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "mpi init: handshake with node %d", i)
	}

	// Receive the handshake message back
	var message initialMessage
	if err := w.dec.Decode(&message); err != nil {
		conn.Close()
		return errors.Wrapf(err, "mpi init: handshake reply from node %d", i)
	}
	id, err := n.passwordAndId(message)
	if err != nil {
		conn.Close()
		return err
	}
	if id != i {
		conn.Close()
		return errors.Errorf("mpi init: %s answered as node %d, expected %d", n.Addrs[i], id, i)
	}

	n.mux.Lock()
	n.connections[i].dial = w
	n.mux.Unlock()
	return nil
}

// Checks that the password matches what the network expects and that the
// id is valid
func (n *Network) passwordAndId(message initialMessage) (int, error) {
	if message.Password != n.hashedPassword {
		return -1, errors.New("mpi init: bad password")
	}
	if message.Id >= n.nNodes || message.Id < 0 || message.Id == n.myrank {
		return -1, errors.Errorf("mpi init: bad id: %v", message.Id)
	}
	return message.Id, nil
}

// Finalize implements the Mpi finalize function
func (n *Network) Finalize() {
	n.close()
	klog.V(1).Infof("mpi: node %d finalized", n.myrank)
}

// close closes all of the connections
func (n *Network) close() {
	n.closed.Store(true)
	for _, conn := range n.connections {
		if conn.dial != nil {
			conn.dial.conn.Close()
		}
		if conn.listen != nil {
			conn.listen.conn.Close()
		}
	}
}

// message to send over the wire
type message struct {
	Tag   int
	Bytes []byte
}

func (n *Network) checkNode(node int) error {
	if n.nNodes == 0 {
		return errors.New("mpi: not initialized")
	}
	if node < 0 || node >= n.nNodes {
		return errors.Errorf("mpi: node %d out of range [0, %d)", node, n.nNodes)
	}
	return nil
}

// Send implements the Mpi function
func (n *Network) Send(data interface{}, destination, tag int) error {
	if err := n.checkNode(destination); err != nil {
		return err
	}

	// Send serializes the data using gob, and then encodes the tag and the
	// bytes. message is not of type {int, interface{}} because then we couldn't
	// deserialize without knowing the type, which would make concurrent sends
	// impossible
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return errors.Wrapf(err, "mpi: encoding tag %d for node %d", tag, destination)
	}

	conn := n.connections[destination]
	if _, err := conn.sendtags.Claim(tag, destination); err != nil {
		return err
	}

	if destination == n.myrank {
		conn.receivetags.Channel(tag) <- buf.Bytes()
		return nil
	}

	err := conn.dial.send(message{Tag: tag, Bytes: buf.Bytes()})
	if err != nil {
		conn.sendtags.Delete(tag)
		return errors.Wrapf(err, "mpi: sending tag %d to node %d", tag, destination)
	}
	return nil
}

// confirmationReader reads the confirmations of received messages sent back
// by destination, and signals the channel of the confirmed tag.
func (n *Network) confirmationReader(destination int) {
	conn := n.connections[destination]
	for {
		var m message
		if err := conn.dial.dec.Decode(&m); err != nil {
			n.readError(destination, err)
			return
		}
		conn.sendtags.Channel(m.Tag) <- nil
	}
}

// Wait implements the Mpi function
func (n *Network) Wait(destination, tag int) error {
	if err := n.checkNode(destination); err != nil {
		return err
	}
	// Wait for a receive from that tag, and then delete the tag to free it for
	// reuse
	conn := n.connections[destination]
	c, ok := conn.sendtags.Lookup(tag)
	if !ok {
		return errors.Errorf("mpi: no send with tag %d to node %d to wait for", tag, destination)
	}
	<-c
	conn.sendtags.Delete(tag)
	return nil
}

// Receive implements the Mpi function
func (n *Network) Receive(data interface{}, source, tag int) error {
	if err := n.checkNode(source); err != nil {
		return err
	}

	conn := n.connections[source]
	c, err := conn.receivetags.Claim(tag, source)
	if err != nil {
		return err
	}

	// Receive the bytes, free the tag, and confirm before decoding so the
	// sender is never held up by a local decoding error
	b := <-c
	conn.receivetags.Delete(tag)
	if err := n.confirm(source, tag); err != nil {
		return err
	}

	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(data); err != nil {
		return errors.Wrapf(err, "mpi: decoding tag %d from node %d", tag, source)
	}
	return nil
}

// confirm sends the confirmation of receipt of tag to source
func (n *Network) confirm(source, tag int) error {
	conn := n.connections[source]
	if source == n.myrank {
		conn.sendtags.Channel(tag) <- nil
		return nil
	}
	err := conn.listen.send(message{Tag: tag})
	return errors.Wrapf(err, "mpi: confirming tag %d to node %d", tag, source)
}

// receiveReader reads from the connection with source and hands every
// message to the channel of its tag
func (n *Network) receiveReader(source int) {
	conn := n.connections[source]
	for {
		var m message
		if err := conn.listen.dec.Decode(&m); err != nil {
			n.readError(source, err)
			return
		}
		conn.receivetags.Channel(m.Tag) <- m.Bytes
	}
}

func (n *Network) readError(node int, err error) {
	if n.closed.Load() {
		return
	}
	if err == io.EOF {
		klog.V(1).Infof("mpi: node %d closed its connection with node %d", node, n.myrank)
		return
	}
	klog.Errorf("mpi: node %d lost connection with node %d: %v", n.myrank, node, err)
}

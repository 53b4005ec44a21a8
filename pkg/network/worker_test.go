package network

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// startWorker runs the consumer loop; the 30-second startup gate passes at
// once because fixture devices are ready already.
func startWorker(t *testing.T, net *Network) *Worker {
	t.Helper()
	w := NewWorker(net, nil)
	if !net.Registry.AllReady() {
		t.Fatal("fixture devices not ready")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("worker start: %v", err)
	}
	return w
}

// waitDone polls until the message reaches a terminal state.
func waitDone(t *testing.T, msg Message) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := msg.Base().Status; s == StatusSuccess || s == StatusFailed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s did not finish", msg.Base().OperationID)
}

func TestWorkerProcessesIntentsInOrder(t *testing.T) {
	net, _ := testFabric(t)
	w := startWorker(t, net)
	defer w.Stop()

	first := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	second := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{100},
	}
	if err := w.Submit(first); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := w.Submit(second); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitDone(t, first)
	waitDone(t, second)

	if first.Status != StatusSuccess {
		t.Fatalf("first intent status = %s (%s)", first.Status, first.ErrorCategory)
	}
	if second.Status != StatusSuccess {
		t.Fatalf("second intent status = %s (%s)", second.Status, second.ErrorCategory)
	}

	// The second intent saw post-mutation state: the port attachment
	// found the VLAN already terminated on the hub and plumbed the
	// backbone.
	edge := net.Graph.FindEdge("core", "sw2", map[string]string{"core": "Eth1", "sw2": "Eth1"})
	if edge == nil || !edge.HasVlan(100) {
		t.Fatal("backbone edge does not carry vlan 100")
	}
}

func TestWorkerOperationDurability(t *testing.T) {
	net, _ := testFabric(t)
	w := startWorker(t, net)
	defer w.Stop()

	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := w.Submit(msg); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, msg)

	if msg.EndTime == nil {
		t.Fatal("terminal operation has no end time")
	}
	if msg.EndTime.Before(msg.StartTime) {
		t.Fatal("end time precedes start time")
	}
}

func TestWorkerUnreachableDevice(t *testing.T) {
	net, drivers := testFabric(t)
	w := startWorker(t, net)
	defer w.Stop()

	// The switch drops off the network mid-operation.
	drivers["sw2"].fail = map[string]error{
		"add_vlan": fmt.Errorf("%w: connect timeout", util.ErrUnreachable),
	}

	failing := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{150},
	}
	if err := w.Submit(failing); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, failing)

	if failing.Status != StatusFailed {
		t.Fatalf("status = %s, want Failed", failing.Status)
	}
	if failing.ErrorCategory != util.CategoryUnreachable {
		t.Fatalf("category = %s, want %s", failing.ErrorCategory, util.CategoryUnreachable)
	}
	if net.Registry.Get("sw2").State != model.StateNetError {
		t.Fatalf("device state = %s, want net_error", net.Registry.Get("sw2").State)
	}

	// The queue keeps draining: the next intent on a healthy device
	// succeeds.
	drivers["sw2"].fail = nil
	next := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := w.Submit(next); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, next)
	if next.Status != StatusSuccess {
		t.Fatalf("follow-up status = %s (%s)", next.Status, next.ErrorCategory)
	}
}

func TestWorkerVerificationFailure(t *testing.T) {
	net, drivers := testFabric(t)
	w := startWorker(t, net)
	defer w.Stop()

	// The device acknowledges the attachment but never applies it: the
	// re-read disagrees with the intent and the assert predicate fails.
	drivers["sw2"].silentDrop = true

	msg := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{150},
	}
	if err := w.Submit(msg); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, msg)

	if msg.Status != StatusFailed {
		t.Fatalf("status = %s, want Failed", msg.Status)
	}
	if msg.ErrorCategory != util.CategoryVerification {
		t.Fatalf("category = %s, want %s", msg.ErrorCategory, util.CategoryVerification)
	}
}

func TestWorkerStopDrains(t *testing.T) {
	net, _ := testFabric(t)
	w := startWorker(t, net)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerCallbackNotification(t *testing.T) {
	net, _ := testFabric(t)
	w := startWorker(t, net)
	defer w.Stop()

	received := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		received <- body
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	msg.Callback = srv.URL
	if err := w.Submit(msg); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, msg)

	select {
	case body := <-received:
		if body["id"] != msg.OperationID {
			t.Fatalf("callback id = %q, want %q", body["id"], msg.OperationID)
		}
		if body["status"] != StatusSuccess {
			t.Fatalf("callback status = %q", body["status"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never delivered")
	}
}

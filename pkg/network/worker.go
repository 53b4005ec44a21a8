package network

import (
	"fmt"

	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

// queueDepth bounds the intent backlog. Enqueueing never blocks request
// handlers under normal operation; a full queue rejects the intent.
const queueDepth = 256

// startupRounds caps the 30-second waits for devices leaving reinit.
const startupRounds = 20

// Worker is the single consumer applying intents to the fabric in FIFO
// order. All fabric mutations happen on its goroutine.
type Worker struct {
	Net *Network

	db    *store.DB
	queue chan Message
	done  chan struct{}
}

// NewWorker creates the worker over the fabric model.
func NewWorker(net *Network, db *store.DB) *Worker {
	return &Worker{
		Net:   net,
		db:    db,
		queue: make(chan Message, queueDepth),
		done:  make(chan struct{}),
	}
}

// Submit persists the message as InProgress and enqueues it.
func (w *Worker) Submit(msg Message) error {
	if err := msg.Base().ToDB(w.db); err != nil {
		return err
	}
	select {
	case w.queue <- msg:
		return nil
	default:
		return fmt.Errorf("intent queue full, rejecting operation %s", msg.Base().OperationID)
	}
}

// Start gates on every device leaving reinit, then starts the consumer
// loop on its own goroutine and returns. Stop drains the loop.
func (w *Worker) Start() error {
	if err := w.Net.Registry.WaitReady(startupRounds); err != nil {
		return err
	}
	go w.run()
	return nil
}

// Stop enqueues the stop message and waits for the loop to drain.
func (w *Worker) Stop() {
	msg := &StopMsg{WorkerMsg: NewWorkerMsg(OpStop)}
	w.queue <- msg
	<-w.done
}

// Done is closed when the worker loop has terminated.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) run() {
	defer close(w.done)
	for {
		util.Logger.Info("network worker awaiting for new job")
		msg := <-w.queue
		base := msg.Base()
		util.WithOperation(base.OperationID).Infof("network worker received new job %s", base.Operation)

		if base.Operation == OpStop {
			util.Logger.Info("removing the network worker thread")
			return
		}

		if err := w.process(msg); err != nil {
			category := util.Classify(err)
			util.WithOperation(base.OperationID).Errorf("operation %s failed (%s): %v",
				base.Operation, category, err)
			base.UpdateStatus(w.db, StatusFailed, category)
			continue
		}
		base.UpdateStatus(w.db, StatusSuccess, "")
	}
}

// process dispatches the intent and runs its paired assert predicate.
// The predicate sees post-mutation state: every mutating path re-reads
// the affected devices inside the same unit of work.
func (w *Worker) process(msg Message) error {
	switch m := msg.(type) {
	case *SetConfigMsg:
		return w.Net.SetConfig(m)

	case *AddSwitchMsg:
		if err := w.Net.OnboardSwitch(m.DeviceInfo); err != nil {
			return err
		}
		return w.Net.AssertAddSwitch(m.DeviceInfo.Name)

	case *DelSwitchMsg:
		if err := w.Net.DeleteSwitch(m.SwitchName); err != nil {
			return err
		}
		return w.Net.AssertDelSwitch(m.SwitchName)

	case *AddFirewallMsg:
		if err := w.Net.OnboardFirewall(m.DeviceInfo); err != nil {
			return err
		}
		return w.Net.AssertAddFirewall(m.DeviceInfo.Name)

	case *DelFirewallMsg:
		if err := w.Net.DeleteFirewall(); err != nil {
			return err
		}
		return w.Net.AssertDelFirewall()

	case *NetVlanMsg:
		var err error
		switch m.Operation {
		case OpAddNetVlan:
			err = w.Net.CreateNetVlan(m)
		case OpDelNetVlan:
			err = w.Net.DeleteNetVlan(m)
		case OpModNetVlan:
			err = w.Net.ModifyNetVlan(m)
		default:
			return fmt.Errorf("msg operation %s not supported", m.Operation)
		}
		if err != nil {
			return err
		}
		return w.Net.AssertNetVlan(m)

	case *PortVlanMsg:
		var err error
		switch m.Operation {
		case OpAddPortVlan:
			err = w.Net.AddPortVlan(m)
		case OpDelPortVlan:
			err = w.Net.DelPortVlan(m)
		case OpModPortVlan:
			err = w.Net.ModPortVlan(m)
		default:
			return fmt.Errorf("msg operation %s not supported", m.Operation)
		}
		if err != nil {
			return err
		}
		return w.Net.AssertPortVlan(m)

	case *AddPnfMsg:
		if err := w.Net.AddPnf(m); err != nil {
			return err
		}
		return w.Net.AssertPnf(OpAddPnf, m.Name)

	case *DelPnfMsg:
		if err := w.Net.DelPnf(m); err != nil {
			return err
		}
		return w.Net.AssertPnf(OpDelPnf, m.PnfName)

	case *BindGroupsMsg:
		switch m.Operation {
		case OpBindGroups:
			if err := w.Net.BindGroups(m); err != nil {
				return err
			}
			return w.Net.AssertBindGroups(m, true)
		case OpUnbindGroups:
			if err := w.Net.UnbindGroups(m); err != nil {
				return err
			}
			return w.Net.AssertBindGroups(m, false)
		}
		return fmt.Errorf("msg operation %s not supported", m.Operation)

	case *RouteMsg:
		switch m.Operation {
		case OpAddRoute:
			if err := w.Net.AddRoute(m); err != nil {
				return err
			}
			return w.Net.AssertRoute(m, true)
		case OpDelRoute:
			if err := w.Net.DelRoute(m); err != nil {
				return err
			}
			return w.Net.AssertRoute(m, false)
		}
		return fmt.Errorf("msg operation %s not supported", m.Operation)
	}

	return fmt.Errorf("msg type %T not supported", msg)
}

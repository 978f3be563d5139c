package protocol

import (
	"fmt"

	"yqhp/fanout/internal/task"
)

// MessageType is the discriminant carried in every message's "type" field.
type MessageType string

const (
	// TypeNewConnect is sent by a worker asking to join a master.
	TypeNewConnect MessageType = "new_connect"
	// TypeAccept is pushed by the master to a worker that has been registered.
	TypeAccept MessageType = "accept"
	// TypeReject is pushed by the master to a worker whose registration failed.
	TypeReject MessageType = "reject"
	// TypeDistribute is sent by a client asking the master to map a task over an array.
	TypeDistribute MessageType = "distribute"
	// TypeNoWorkersError is the master's reply to a distribute when no worker is registered.
	TypeNoWorkersError MessageType = "no_workers_error"
	// TypeDelegateWork carries one fragment from the master to a worker.
	TypeDelegateWork MessageType = "delegate_work"
	// TypeAcceptWork carries a computed fragment from a worker back to the master.
	TypeAcceptWork MessageType = "accept_work"
	// TypeWorkError reports a failed fragment (worker to master) or order (master to client).
	TypeWorkError MessageType = "work_error"
	// TypeFinishedTask is the master's reply carrying the reassembled result.
	TypeFinishedTask MessageType = "finished_task"
	// TypeClose is sent by a worker leaving the cluster.
	TypeClose MessageType = "close"
	// TypeMasterShutdown tells registered workers the master is going away.
	TypeMasterShutdown MessageType = "master_shutdown"
)

// Message is the single wire envelope. Which fields are meaningful depends on Type.
type Message struct {
	Type          MessageType      `json:"type"`
	ID            string           `json:"id,omitempty"`
	Name          string           `json:"name,omitempty"`
	Address       string           `json:"address,omitempty"`
	MasterAddress string           `json:"master_address,omitempty"`
	Task          *task.Descriptor `json:"task_descriptor,omitempty"`
	Array         []any            `json:"array,omitempty"`
	OrderID       string           `json:"order_id,omitempty"`
	Chunk         []any            `json:"chunk,omitempty"`
	Data          []any            `json:"data,omitempty"`
	Index         int              `json:"index,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// NewConnect builds a worker registration request.
func NewConnect(name, address string) *Message {
	return &Message{Type: TypeNewConnect, Name: name, Address: address}
}

// Accept builds the master's registration acknowledgement.
func Accept(id, masterAddress string) *Message {
	return &Message{Type: TypeAccept, ID: id, MasterAddress: masterAddress}
}

// Reject builds the master's registration refusal.
func Reject(reason string) *Message {
	return &Message{Type: TypeReject, Error: reason}
}

// Distribute builds a client request.
func Distribute(desc task.Descriptor, array []any) *Message {
	return &Message{Type: TypeDistribute, Task: &desc, Array: array}
}

// NoWorkers builds the master's empty-cluster reply.
func NoWorkers() *Message {
	return &Message{Type: TypeNoWorkersError}
}

// DelegateWork builds one fragment assignment.
func DelegateWork(orderID string, desc task.Descriptor, chunk []any, index int) *Message {
	return &Message{Type: TypeDelegateWork, OrderID: orderID, Task: &desc, Chunk: chunk, Index: index}
}

// AcceptWork builds a worker's fragment result.
func AcceptWork(orderID string, data []any, index int) *Message {
	return &Message{Type: TypeAcceptWork, OrderID: orderID, Data: data, Index: index}
}

// WorkError builds a failure report. orderID is empty on the master to client leg.
func WorkError(orderID, reason string) *Message {
	return &Message{Type: TypeWorkError, OrderID: orderID, Error: reason}
}

// FinishedTask builds the master's success reply.
func FinishedTask(data []any) *Message {
	return &Message{Type: TypeFinishedTask, Data: data}
}

// Close builds a worker's departure notice.
func Close(id string) *Message {
	return &Message{Type: TypeClose, ID: id}
}

// MasterShutdown builds the master's departure notice.
func MasterShutdown() *Message {
	return &Message{Type: TypeMasterShutdown}
}

// Validate checks that the fields required by m.Type are present.
// Unknown types are not an error here; dispatchers decide what to do with them.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch m.Type {
	case TypeNewConnect:
		if m.Name == "" || m.Address == "" {
			return fmt.Errorf("%w: %s requires name and address", ErrMalformedMessage, m.Type)
		}
	case TypeAccept:
		if m.ID == "" || m.MasterAddress == "" {
			return fmt.Errorf("%w: %s requires id and master_address", ErrMalformedMessage, m.Type)
		}
	case TypeDistribute:
		if m.Task == nil {
			return fmt.Errorf("%w: %s requires task_descriptor", ErrMalformedMessage, m.Type)
		}
	case TypeDelegateWork:
		if m.OrderID == "" || m.Task == nil || m.Index < 0 {
			return fmt.Errorf("%w: %s requires order_id, task_descriptor and index", ErrMalformedMessage, m.Type)
		}
	case TypeAcceptWork:
		if m.OrderID == "" || m.Index < 0 {
			return fmt.Errorf("%w: %s requires order_id and index", ErrMalformedMessage, m.Type)
		}
	case TypeClose:
		if m.ID == "" {
			return fmt.Errorf("%w: %s requires id", ErrMalformedMessage, m.Type)
		}
	}
	return nil
}

// String returns a short description for logs. Payload arrays are summarised by length.
func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	switch m.Type {
	case TypeDistribute:
		return fmt.Sprintf("%s{task=%s, len=%d}", m.Type, m.Task, len(m.Array))
	case TypeDelegateWork:
		return fmt.Sprintf("%s{order=%s, index=%d, len=%d}", m.Type, m.OrderID, m.Index, len(m.Chunk))
	case TypeAcceptWork:
		return fmt.Sprintf("%s{order=%s, index=%d, len=%d}", m.Type, m.OrderID, m.Index, len(m.Data))
	case TypeWorkError:
		return fmt.Sprintf("%s{order=%s, error=%q}", m.Type, m.OrderID, m.Error)
	case TypeNewConnect:
		return fmt.Sprintf("%s{name=%s, address=%s}", m.Type, m.Name, m.Address)
	case TypeAccept:
		return fmt.Sprintf("%s{id=%s, master=%s}", m.Type, m.ID, m.MasterAddress)
	case TypeClose:
		return fmt.Sprintf("%s{id=%s}", m.Type, m.ID)
	case TypeFinishedTask:
		return fmt.Sprintf("%s{len=%d}", m.Type, len(m.Data))
	default:
		return string(m.Type)
	}
}

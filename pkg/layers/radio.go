package layers

import (
	"context"
	"fmt"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/mesh"
)

// MeshSender adapts the mesh protocol engine to the sender contract the
// delivery queue speaks.
type MeshSender struct {
	engine *mesh.Engine
}

func NewMeshSender(e *mesh.Engine) *MeshSender { return &MeshSender{engine: e} }

func (s *MeshSender) Layer() comm.Layer { return comm.LayerMeshRadio }

func (s *MeshSender) Send(ctx context.Context, target string, payload []byte) error {
	return s.SendPriority(ctx, target, payload, comm.PriorityNormal)
}

// SendPriority carries the queue priority onto the air. Emergency traffic
// goes out as an emergency broadcast so every node in range hears it;
// everything else is unicast toward the resolved node ID.
func (s *MeshSender) SendPriority(ctx context.Context, target string, payload []byte, prio comm.Priority) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if prio == comm.PriorityEmergency {
		return s.engine.Broadcast(mesh.PacketEmergency, prio, payload)
	}
	if target == "" {
		return fmt.Errorf("mesh send needs a target node")
	}
	return s.engine.Send(meshDest(target), mesh.PacketData, prio, payload, mesh.FlagAckRequested)
}

// meshDest turns a layer address into a node ID: either the hex form a
// routing decision carries, or a node name to hash.
func meshDest(target string) comm.NodeID {
	if len(target) == 16 {
		if id, err := comm.ParseNodeID(target); err == nil {
			return id
		}
	}
	return comm.DeriveNodeID(target)
}

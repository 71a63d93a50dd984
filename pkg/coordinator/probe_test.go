package coordinator_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/entity"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

const probeName = "Probe"

// probe records the other-peer hooks it receives.
type probe struct {
	*entity.Base

	mu  sync.Mutex
	log []string
}

func probeClass() coordinator.Class {
	return coordinator.Class{
		Name:    probeName,
		Channel: "probes",
		New: func(spec entity.Spec) (entity.Entity, error) {
			p := &probe{Base: entity.NewBase(spec.Coordinator, spec.Element, entity.WithInstanceID(spec.InstanceID))}
			p.Attach(p)
			return p, nil
		},
	}
}

func newProbe(t *testing.T, p *peer, id string) *probe {
	t.Helper()
	el, err := p.renderer.CreateElement("body")
	require.NoError(t, err)
	e, err := probeClass().New(entity.Spec{InstanceID: id, Element: el, Coordinator: p.c})
	require.NoError(t, err)
	return e.(*probe)
}

func probeSnapshot(id string) magicdrag.SerializedData {
	return magicdrag.SerializedData{InstanceID: id, ClassName: probeName, CustomData: []byte(`{}`)}
}

func (p *probe) ClassName() string { return probeName }

func (p *probe) Serialize() (magicdrag.SerializedData, error) { return p.Snapshot(struct{}{}) }

func (p *probe) Deserialize(magicdrag.SerializedData) error { return nil }

func (p *probe) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, s)
}

func (p *probe) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

func (p *probe) OnOtherPeerDragStart(magicdrag.Payload) { p.record("start") }

func (p *probe) OnOtherPeerDragMove(magicdrag.Payload) { p.record("move") }

func (p *probe) OnOtherPeerDragEnd(magicdrag.Payload) { p.record("end") }

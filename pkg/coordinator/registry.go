package coordinator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

func validChannel(name string) bool { return strings.TrimSpace(name) != "" }

// RegisterClass binds a class to its channel and subscribes the channel when
// it is new. A class name registers once; a channel serves one class.
func (c *Coordinator) RegisterClass(cls Class) error {
	if cls.Name == "" || cls.New == nil {
		return fmt.Errorf("%w: class needs a name and a factory", ErrInvalidClass)
	}
	if !validChannel(cls.Channel) {
		return fmt.Errorf("%w: class %q: %q", ErrInvalidChannel, cls.Name, cls.Channel)
	}

	var err error
	ok := c.do(func(t *turn) {
		if _, dup := c.classes[cls.Name]; dup {
			err = fmt.Errorf("%w: %q", ErrDuplicateClass, cls.Name)
			return
		}
		if owner, taken := c.classByChannel[cls.Channel]; taken {
			err = fmt.Errorf("%w: %q is used by %q", ErrChannelConflict, cls.Channel, owner)
			return
		}
		c.classes[cls.Name] = cls
		c.classByChannel[cls.Channel] = cls.Name
		c.channelRefs[cls.Channel]++
		name := cls.Channel
		t.after(func() { c.ensureChannel(name) })
	})
	if !ok {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	c.log.Info("class registered",
		slog.String("class", cls.Name),
		slog.String("channel", cls.Channel),
	)
	return nil
}

// UnregisterClass forgets a class and tears its channel down when nothing
// else uses it. Unknown names are ignored.
func (c *Coordinator) UnregisterClass(name string) {
	c.do(func(t *turn) {
		cls, ok := c.classes[name]
		if !ok {
			return
		}
		delete(c.classes, name)
		delete(c.classByChannel, cls.Channel)
		c.channelRefs[cls.Channel]--
		if c.channelRefs[cls.Channel] > 0 {
			return
		}
		delete(c.channelRefs, cls.Channel)
		if cls.Channel == c.opts.Channel {
			return
		}
		ch := cls.Channel
		t.after(func() { c.closeChannel(ch) })
	})
}

// Class returns the registered class named name.
func (c *Coordinator) Class(name string) (Class, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cls, ok := c.classes[name]
	return cls, ok
}

// RegisterInstance records e under its id and class. Registering the same
// entity twice is harmless; a different entity with the same id replaces the
// earlier one.
func (c *Coordinator) RegisterInstance(e entity.Entity) {
	if e == nil || e.InstanceID() == "" {
		return
	}
	c.do(func(*turn) { c.registerInstance(e) })
}

func (c *Coordinator) registerInstance(e entity.Entity) {
	id := e.InstanceID()
	if prev, ok := c.instances[id]; ok && prev != e {
		c.unindex(prev)
	}
	c.instances[id] = e
	name := e.ClassName()
	set := c.byClass[name]
	if set == nil {
		set = make(map[string]entity.Entity)
		c.byClass[name] = set
	}
	set[id] = e
}

func (c *Coordinator) UnregisterInstance(instanceID string) {
	c.do(func(*turn) { c.unregisterInstance(instanceID) })
}

func (c *Coordinator) unregisterInstance(id string) {
	e, ok := c.instances[id]
	if !ok {
		return
	}
	delete(c.instances, id)
	c.unindex(e)
}

func (c *Coordinator) unindex(e entity.Entity) {
	name := e.ClassName()
	set := c.byClass[name]
	if set[e.InstanceID()] == e {
		delete(set, e.InstanceID())
	}
	if len(set) == 0 {
		delete(c.byClass, name)
	}
}

func (c *Coordinator) Instance(id string) (entity.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.instances[id]
	return e, ok
}

// InstancesOf returns the live instances of a class ordered by id.
func (c *Coordinator) InstancesOf(className string) []entity.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instancesOf(className)
}

func (c *Coordinator) instancesOf(className string) []entity.Entity {
	set := c.byClass[className]
	out := make([]entity.Entity, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID() < out[j].InstanceID() })
	return out
}

// classOf resolves the class a message belongs to: the snapshot's class, or
// the class of the local instance it names.
func (c *Coordinator) classOf(msg magicdrag.Message) string {
	if name := msg.ClassName(); name != "" {
		return name
	}
	if e, ok := c.instances[msg.InstanceID]; ok {
		return e.ClassName()
	}
	return ""
}

// channelFor is the channel a message travels on: its class's channel, or
// the default one.
func (c *Coordinator) channelFor(msg magicdrag.Message) string {
	if cls, ok := c.classes[c.classOf(msg)]; ok {
		return cls.Channel
	}
	return c.opts.Channel
}

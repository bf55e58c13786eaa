package wire

// Wayland object 1 is wl_display on every connection.
const DisplayObjectID = 1

// Request opcodes the tracker cares about.
const (
	opDisplayGetRegistry = 1
	opRegistryBind       = 0
	opSeatGetPointer     = 0
	opSeatGetKeyboard    = 1
	opSeatGetTouch       = 2
)

// Keyboard event opcodes. keymap (0) and repeat_info (5) are left
// alone: keymap carries an fd and neither is user input.
const (
	kbdEnter     = 1
	kbdModifiers = 4
)

const seatInterface = "wl_seat"

// DeviceClass labels a compositor event by the input device it belongs
// to, if any.
type DeviceClass int

const (
	ClassOther DeviceClass = iota
	ClassPointer
	ClassKeyboard
	ClassTouch
)

func (c DeviceClass) String() string {
	switch c {
	case ClassPointer:
		return "pointer"
	case ClassKeyboard:
		return "keyboard"
	case ClassTouch:
		return "touch"
	default:
		return "other"
	}
}

// Tracker learns the live object ids of the registry, the seat, and the
// seat's input devices by watching client requests. Ids start at zero
// ("unknown") and are overwritten if the client binds again; destructor
// traffic is not observed.
type Tracker struct {
	registry uint32
	seat     uint32
	pointer  uint32
	keyboard uint32
	touch    uint32
}

// ObserveRequest updates the tracker from one client→compositor
// message.
func (t *Tracker) ObserveRequest(m Message) {
	switch {
	case m.Object == DisplayObjectID:
		if m.Opcode == opDisplayGetRegistry && len(m.Payload) >= 4 {
			t.registry = le.Uint32(m.Payload[:4])
		}
	case m.Object == t.registry && t.registry != 0:
		if m.Opcode != opRegistryBind {
			return
		}
		bind, err := ParseBind(m.Payload)
		if err != nil {
			return
		}
		if bind.Interface == seatInterface {
			t.seat = bind.NewID
		}
	case m.Object == t.seat && t.seat != 0:
		if len(m.Payload) < 4 {
			return
		}
		newID := le.Uint32(m.Payload[:4])
		switch m.Opcode {
		case opSeatGetPointer:
			t.pointer = newID
		case opSeatGetKeyboard:
			t.keyboard = newID
		case opSeatGetTouch:
			t.touch = newID
		}
	}
}

// Classify maps an object id to the input device it names, or
// ClassOther.
func (t *Tracker) Classify(object uint32) DeviceClass {
	switch {
	case object != 0 && object == t.pointer:
		return ClassPointer
	case object != 0 && object == t.keyboard:
		return ClassKeyboard
	case object != 0 && object == t.touch:
		return ClassTouch
	default:
		return ClassOther
	}
}

// IsInputEvent reports whether a compositor event is user input subject
// to capture/replay policy: any pointer or touch event, and keyboard
// enter/leave/key/modifiers.
func (t *Tracker) IsInputEvent(object uint32, opcode uint16) bool {
	switch t.Classify(object) {
	case ClassPointer, ClassTouch:
		return true
	case ClassKeyboard:
		return opcode >= kbdEnter && opcode <= kbdModifiers
	default:
		return false
	}
}

// Registry returns the learned wl_registry id, zero if unseen.
func (t *Tracker) Registry() uint32 { return t.registry }

// Seat returns the learned wl_seat id, zero if unseen.
func (t *Tracker) Seat() uint32 { return t.seat }

// Pointer returns the learned wl_pointer id, zero if unseen.
func (t *Tracker) Pointer() uint32 { return t.pointer }

// Keyboard returns the learned wl_keyboard id, zero if unseen.
func (t *Tracker) Keyboard() uint32 { return t.keyboard }

// Touch returns the learned wl_touch id, zero if unseen.
func (t *Tracker) Touch() uint32 { return t.touch }

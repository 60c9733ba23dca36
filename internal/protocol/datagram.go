package protocol

// Datagram is one protocol message: a command, the protocol version, an
// optional query id, and the remaining tags in insertion order. The version,
// command, and query id live in dedicated slots rather than in Tags; Encode
// re-synthesizes them at the front of the byte stream.
type Datagram struct {
	ProtocolVersion uint16
	Command         Command
	Tags            []Tag

	queryID    uint32
	hasQueryID bool
}

// NewDatagram creates an empty datagram for the given command, speaking the
// current protocol version.
func NewDatagram(command Command) *Datagram {
	return &Datagram{
		ProtocolVersion: Version,
		Command:         command,
	}
}

// AddTag appends a tag to the datagram's generic tag list.
func (d *Datagram) AddTag(tag Tag) {
	d.Tags = append(d.Tags, tag)
}

// QueryID returns the datagram's query id and whether one is set.
func (d *Datagram) QueryID() (uint32, bool) {
	return d.queryID, d.hasQueryID
}

// SetQueryID sets the datagram's query id.
func (d *Datagram) SetQueryID(id uint32) {
	d.queryID = id
	d.hasQueryID = true
}

// ClearQueryID unsets the datagram's query id.
func (d *Datagram) ClearQueryID() {
	d.queryID = 0
	d.hasQueryID = false
}

// Encode serializes the datagram to its canonical wire form: protocol
// version, command, query id if set, then the remaining tags in order.
func (d *Datagram) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = ProtocolVersionTag{Version: d.ProtocolVersion}.Encode(buf)
	buf = CommandTag{Command: d.Command}.Encode(buf)
	if d.hasQueryID {
		buf = QueryIDTag{ID: d.queryID}.Encode(buf)
	}
	for _, tag := range d.Tags {
		buf = tag.Encode(buf)
	}
	return buf
}

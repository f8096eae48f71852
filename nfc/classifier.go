package nfc

import "fmt"

// Binding is the technology selected for a discovered tag.
type Binding struct {
	Protocol   Protocol
	Tech       string
	Technology TagTechnology
}

// Classify selects the highest-priority technology that tag advertises and
// activated accepts. The order of the tag's tech list does not matter.
func Classify(tag Tag, activated func(Protocol) bool) (Binding, error) {
	advertised := make(map[string]bool)
	for _, t := range tag.TechList() {
		advertised[t] = true
	}

	for _, e := range protocolTable {
		if !advertised[e.tech] || !activated(e.protocol) {
			continue
		}
		tech, err := tag.Technology(e.tech)
		if err != nil {
			return Binding{}, NewChannelIOError("Classify", fmt.Sprintf("cannot bind %s", e.tech), err)
		}
		if !implements(e.protocol, tech) {
			return Binding{}, Errorf(ErrCodeUnsupportedTechnology, "Classify",
				"tag returned %T for %s", tech, e.tech)
		}
		return Binding{Protocol: e.protocol, Tech: e.tech, Technology: tech}, nil
	}
	return Binding{}, NewUnsupportedTechnologyError("Classify", tag.TechList())
}

func implements(p Protocol, tech TagTechnology) bool {
	switch p {
	case ProtocolISO14443_4:
		_, ok := tech.(IsoDep)
		return ok
	case ProtocolMifareClassic:
		_, ok := tech.(MifareClassic)
		return ok
	case ProtocolMifareUltralight:
		_, ok := tech.(MifareUltralight)
		return ok
	}
	return false
}

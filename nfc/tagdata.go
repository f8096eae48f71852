package nfc

import (
	"encoding/json"
	"slices"
)

// technicalData is the JSON view of the anticollision parameters.
type technicalData struct {
	Type            string `json:"type"`
	UID             string `json:"uid"`
	ATQA            string `json:"atqa,omitempty"`
	SAK             string `json:"sak,omitempty"`
	ApplicationData string `json:"applicationData,omitempty"`
	ProtocolInfo    string `json:"protocolInfo,omitempty"`
}

func buildTechnicalData(tag Tag, uid []byte) string {
	techs := tag.TechList()
	var td technicalData

	switch {
	case slices.Contains(techs, TechNfcA):
		t, err := tag.Technology(TechNfcA)
		a, ok := t.(NfcA)
		if err != nil || !ok {
			return ""
		}
		td = technicalData{
			Type: "A",
			UID:  BytesToHex(uid),
			ATQA: BytesToHex(a.Atqa()),
			SAK:  BytesToHex([]byte{a.Sak()}),
		}
	case slices.Contains(techs, TechNfcB):
		t, err := tag.Technology(TechNfcB)
		b, ok := t.(NfcB)
		if err != nil || !ok {
			return ""
		}
		td = technicalData{
			Type:            "B",
			UID:             BytesToHex(uid),
			ApplicationData: BytesToHex(b.ApplicationData()),
			ProtocolInfo:    BytesToHex(b.ProtocolInfo()),
		}
	default:
		return ""
	}

	out, err := json.Marshal(td)
	if err != nil {
		return ""
	}
	return string(out)
}

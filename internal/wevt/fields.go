package wevt

import (
	"slices"
	"strings"

	"wevt_dumper/internal/evtapi"
)

// PropertyField identifies one publisher metadata property.
type PropertyField struct {
	ID   uint32
	Name string
}

func (f PropertyField) String() string { return f.Name }

// Publisher-level properties.
var (
	FieldPublisherGUID      = PropertyField{evtapi.EvtPublisherMetadataPublisherGuid, "GUID"}
	FieldResourceFilePath   = PropertyField{evtapi.EvtPublisherMetadataResourceFilePath, "Resource File Path"}
	FieldParameterFilePath  = PropertyField{evtapi.EvtPublisherMetadataParameterFilePath, "Parameter File Path"}
	FieldMessageFilePath    = PropertyField{evtapi.EvtPublisherMetadataMessageFilePath, "Message File Path"}
	FieldHelpLink           = PropertyField{evtapi.EvtPublisherMetadataHelpLink, "Help Link"}
	FieldPublisherMessageID = PropertyField{evtapi.EvtPublisherMetadataPublisherMessageID, "Message ID"}

	FieldChannelReferences = PropertyField{evtapi.EvtPublisherMetadataChannelReferences, "Channels"}
	FieldLevels            = PropertyField{evtapi.EvtPublisherMetadataLevels, "Levels"}
	FieldTasks             = PropertyField{evtapi.EvtPublisherMetadataTasks, "Tasks"}
	FieldOpcodes           = PropertyField{evtapi.EvtPublisherMetadataOpcodes, "Opcodes"}
	FieldKeywords          = PropertyField{evtapi.EvtPublisherMetadataKeywords, "Keywords"}
)

// Properties of the items of the sub-collection object arrays.
var (
	FieldChannelPath      = PropertyField{evtapi.EvtPublisherMetadataChannelReferencePath, "Channel Path"}
	FieldChannelIndex     = PropertyField{evtapi.EvtPublisherMetadataChannelReferenceIndex, "Channel Index"}
	FieldChannelID        = PropertyField{evtapi.EvtPublisherMetadataChannelReferenceID, "Channel ID"}
	FieldChannelFlags     = PropertyField{evtapi.EvtPublisherMetadataChannelReferenceFlags, "Channel Flags"}
	FieldChannelMessageID = PropertyField{evtapi.EvtPublisherMetadataChannelReferenceMessageID, "Channel Message ID"}

	FieldLevelName      = PropertyField{evtapi.EvtPublisherMetadataLevelName, "Level Name"}
	FieldLevelValue     = PropertyField{evtapi.EvtPublisherMetadataLevelValue, "Level Value"}
	FieldLevelMessageID = PropertyField{evtapi.EvtPublisherMetadataLevelMessageID, "Level Message ID"}

	FieldTaskName      = PropertyField{evtapi.EvtPublisherMetadataTaskName, "Task Name"}
	FieldTaskEventGUID = PropertyField{evtapi.EvtPublisherMetadataTaskEventGuid, "Task Event GUID"}
	FieldTaskValue     = PropertyField{evtapi.EvtPublisherMetadataTaskValue, "Task Value"}
	FieldTaskMessageID = PropertyField{evtapi.EvtPublisherMetadataTaskMessageID, "Task Message ID"}

	FieldOpcodeName      = PropertyField{evtapi.EvtPublisherMetadataOpcodeName, "Opcode Name"}
	FieldOpcodeValue     = PropertyField{evtapi.EvtPublisherMetadataOpcodeValue, "Opcode Value"}
	FieldOpcodeMessageID = PropertyField{evtapi.EvtPublisherMetadataOpcodeMessageID, "Opcode Message ID"}

	FieldKeywordName      = PropertyField{evtapi.EvtPublisherMetadataKeywordName, "Keyword Name"}
	FieldKeywordValue     = PropertyField{evtapi.EvtPublisherMetadataKeywordValue, "Keyword Value"}
	FieldKeywordMessageID = PropertyField{evtapi.EvtPublisherMetadataKeywordMessageID, "Keyword Message ID"}
)

// PublisherFields lists the scalar publisher-level properties in catalog
// order.
var PublisherFields = []PropertyField{
	FieldPublisherGUID,
	FieldResourceFilePath,
	FieldParameterFilePath,
	FieldMessageFilePath,
	FieldHelpLink,
	FieldPublisherMessageID,
}

// LookupField finds a publisher-level or collection field by name,
// ignoring case.
func LookupField(name string) (PropertyField, bool) {
	collections := []PropertyField{FieldChannelReferences, FieldLevels, FieldTasks, FieldOpcodes, FieldKeywords}
	for _, f := range slices.Concat(PublisherFields, collections) {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return PropertyField{}, false
}

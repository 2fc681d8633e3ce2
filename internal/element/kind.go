package element

import "fmt"

// Kind discriminates canvas entities. The set is closed.
type Kind string

const (
	KindImage Kind = "media-image"
	KindVideo Kind = "media-video"
	KindText  Kind = "media-text"
	KindModel Kind = "media-model3d"

	KindImageGenerator Kind = "generator-image"
	KindVideoGenerator Kind = "generator-video"
	KindMusicGenerator Kind = "generator-music"

	KindUpscale     Kind = "plugin-upscale"
	KindRemoveBg    Kind = "plugin-removebg"
	KindVectorize   Kind = "plugin-vectorize"
	KindErase       Kind = "plugin-erase"
	KindExpand      Kind = "plugin-expand"
	KindStoryboard  Kind = "plugin-storyboard"
	KindScriptFrame Kind = "plugin-script-frame"
	KindSceneFrame  Kind = "plugin-scene-frame"
	KindTextInput   Kind = "plugin-text-input"

	KindConnector Kind = "connector"
)

// Family groups kinds that share a meta variant.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyMedia
	FamilyGenerator
	FamilyPlugin
	FamilyConnector
)

func (f Family) String() string {
	switch f {
	case FamilyMedia:
		return "media"
	case FamilyGenerator:
		return "generator"
	case FamilyPlugin:
		return "plugin"
	case FamilyConnector:
		return "connector"
	default:
		return "unknown"
	}
}

var kindFamilies = map[Kind]Family{
	KindImage:          FamilyMedia,
	KindVideo:          FamilyMedia,
	KindText:           FamilyMedia,
	KindModel:          FamilyMedia,
	KindImageGenerator: FamilyGenerator,
	KindVideoGenerator: FamilyGenerator,
	KindMusicGenerator: FamilyGenerator,
	KindUpscale:        FamilyPlugin,
	KindRemoveBg:       FamilyPlugin,
	KindVectorize:      FamilyPlugin,
	KindErase:          FamilyPlugin,
	KindExpand:         FamilyPlugin,
	KindStoryboard:     FamilyPlugin,
	KindScriptFrame:    FamilyPlugin,
	KindSceneFrame:     FamilyPlugin,
	KindTextInput:      FamilyPlugin,
	KindConnector:      FamilyConnector,
}

// Family returns the meta family for k, or FamilyUnknown.
func (k Kind) Family() Family {
	return kindFamilies[k]
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindFamilies[k]
	return ok
}

// Positioned reports whether elements of this kind carry canvas coordinates
// that move operations translate. Connectors follow their endpoints instead.
func (k Kind) Positioned() bool {
	return k.Valid() && k != KindConnector
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown element kind %q", s)
	}
	return k, nil
}

// Status is the lifecycle of a generation or plugin run.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// InFlight reports whether a run with this status has not terminated yet.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusGenerating
}

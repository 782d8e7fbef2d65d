package persona

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// Persona captures the avatar identity and voice settings exposed to clients.
type Persona struct {
	Name              string         `json:"name" toml:"name"`
	AvatarName        string         `json:"avatarName" toml:"avatar_name"`
	AvatarFullName    string         `json:"avatarFullName" toml:"avatar_full_name"`
	AvatarImageIdle   string         `json:"avatarImageIdle" toml:"avatar_image_idle"`
	AvatarImageTalk   string         `json:"avatarImageTalk,omitempty" toml:"avatar_image_talk"`
	SystemInstruction string         `json:"systemInstruction,omitempty" toml:"system_instruction"`
	VsayOptions       speech.Options `json:"vsayOptions" toml:"vsay_options"`
}

// Clone copies the persona including its option mapping.
func (p Persona) Clone() Persona {
	p.VsayOptions = p.VsayOptions.Clone()
	return p
}

// Instruction returns the system instruction, deriving one from the avatar
// name when none is configured.
func (p Persona) Instruction() string {
	if p.SystemInstruction != "" {
		return p.SystemInstruction
	}
	return fmt.Sprintf("You are %s, an AI assistant. Answer in a technical, direct style. Keep replies short and to the point.", p.AvatarName)
}

// Seed provides the built-in personas used when no persona file is configured.
func Seed() []Persona {
	spectra := speech.DefaultOptions()
	spectra[speech.KeyHost] = "127.0.0.1"
	spectra[speech.KeyPort] = "50021"
	spectra[speech.KeySpeaker] = "3"

	echo := speech.DefaultOptions()
	echo[speech.KeySpeed] = 1.15
	echo[speech.KeyPitch] = 4.0
	echo[speech.KeyHost] = "127.0.0.1"
	echo[speech.KeyPort] = "50021"
	echo[speech.KeySpeaker] = "8"

	return []Persona{
		{
			Name:            "spectra",
			AvatarName:      "Spectra",
			AvatarFullName:  "Spectra Communicator",
			AvatarImageIdle: "idle.png",
			AvatarImageTalk: "talk.png",
			VsayOptions:     spectra,
		},
		{
			Name:              "echo",
			AvatarName:        "Echo",
			AvatarFullName:    "Echo Relay Unit",
			AvatarImageIdle:   "echo_idle.png",
			AvatarImageTalk:   "echo_talk.png",
			SystemInstruction: "You are Echo, a cheerful relay assistant. Reply warmly and briefly.",
			VsayOptions:       echo,
		},
	}
}

type seedFile struct {
	Personas []Persona `toml:"persona"`
}

// LoadFile reads personas from a TOML file of [[persona]] tables.
func LoadFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var file seedFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona file %s defines no personas", path)
	}

	seen := make(map[string]struct{}, len(file.Personas))
	for i, p := range file.Personas {
		if p.Name == "" {
			return nil, fmt.Errorf("persona #%d has no name", i+1)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.AvatarName == "" {
			file.Personas[i].AvatarName = p.Name
		}
		file.Personas[i].VsayOptions = speech.DefaultOptions().Merge(p.VsayOptions).Clamped()
	}
	return file.Personas, nil
}

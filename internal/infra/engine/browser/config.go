package browser

import "time"

// Timeouts bound each phase of the chat UI flow.
type Timeouts struct {
	PageLoad      time.Duration `yaml:"page_load"`
	FindComposer  time.Duration `yaml:"find_composer"`
	UploadOverlay time.Duration `yaml:"upload_overlay"`
	AttachConfirm time.Duration `yaml:"attach_confirm"`
	PromptPaste   time.Duration `yaml:"prompt_paste"`
	SendConfirm   time.Duration `yaml:"send_confirm"`
	GenAppear     time.Duration `yaml:"gen_appear"`
	GenDone       time.Duration `yaml:"gen_done"`
	CleanupWait   time.Duration `yaml:"cleanup_wait"`
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PageLoad:      180 * time.Second,
		FindComposer:  60 * time.Second,
		UploadOverlay: 20 * time.Second,
		AttachConfirm: 8 * time.Second,
		PromptPaste:   10 * time.Second,
		SendConfirm:   30 * time.Second,
		GenAppear:     20 * time.Second,
		GenDone:       240 * time.Second,
		CleanupWait:   5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.PageLoad, d.PageLoad)
	fill(&t.FindComposer, d.FindComposer)
	fill(&t.UploadOverlay, d.UploadOverlay)
	fill(&t.AttachConfirm, d.AttachConfirm)
	fill(&t.PromptPaste, d.PromptPaste)
	fill(&t.SendConfirm, d.SendConfirm)
	fill(&t.GenAppear, d.GenAppear)
	fill(&t.GenDone, d.GenDone)
	fill(&t.CleanupWait, d.CleanupWait)
	return t
}

// Config holds browser engine settings.
type Config struct {
	URL        string   `yaml:"url"`
	ProfileDir string   `yaml:"profile_dir"`
	Headless   bool     `yaml:"headless"`
	ExecPath   string   `yaml:"exec_path"`
	Timeouts   Timeouts `yaml:"timeouts"`
	DebugDir   string   `yaml:"-"`
}

// DefaultURL is the chat page opened when none is configured.
const DefaultURL = "https://gemini.google.com/app"

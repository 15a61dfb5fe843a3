package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the conversation defaults apply without a restart; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is set when the system prompt, default voice,
	// language or token limits changed. New sessions pick them up.
	ConversationChanged bool

	// RestartRequired names the top-level sections that changed but cannot
	// be applied live.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ConversationChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Workers.Conversation, new.Workers.Conversation
	if oc.SystemPrompt != nc.SystemPrompt || oc.DefaultVoice != nc.DefaultVoice ||
		oc.Language != nc.Language || oc.MaxTokens != nc.MaxTokens || oc.ContextWindow != nc.ContextWindow {
		d.ConversationChanged = true
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !reflect.DeepEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	ow, nw := old.Workers, new.Workers
	ow.Conversation.SystemPrompt, nw.Conversation.SystemPrompt = "", ""
	ow.Conversation.DefaultVoice, nw.Conversation.DefaultVoice = "", ""
	ow.Conversation.Language, nw.Conversation.Language = "", ""
	ow.Conversation.MaxTokens, nw.Conversation.MaxTokens = 0, 0
	ow.Conversation.ContextWindow, nw.Conversation.ContextWindow = 0, 0
	if !reflect.DeepEqual(ow, nw) {
		d.RestartRequired = append(d.RestartRequired, "workers")
	}
	if !reflect.DeepEqual(old.Models, new.Models) {
		d.RestartRequired = append(d.RestartRequired, "models")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}

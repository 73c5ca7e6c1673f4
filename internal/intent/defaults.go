package intent

// DefaultWakeWord gates every transcript.
const DefaultWakeWord = "robin"

// DefaultDefinitions is the built-in command table. Priorities descend in the
// order the phrases must be tried: "close chat" before "chat", "stop detection"
// before the bare "stop" of stop reading.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "Identify", Category: CategoryNavigation, Priority: 230, Action: ActionNavigate,
			Synonyms: []string{"identify", "go to identify", "open identify", "show identify", "start identify"}},
		{Name: "Forecast", Category: CategoryNavigation, Priority: 220, Action: ActionNavigate,
			Synonyms: []string{"forecast", "go to forecast", "open forecast", "show forecast", "start forecast"}},
		{Name: "History", Category: CategoryNavigation, Priority: 210, Action: ActionNavigate,
			Synonyms: []string{"history", "go to history", "open history", "show history"}},
		{Name: "Settings", Category: CategoryNavigation, Priority: 200, Action: ActionNavigate,
			Synonyms: []string{"settings", "go to settings", "open settings", "show settings"}},
		{Name: "close chat", Category: CategoryChat, Priority: 190, Action: ActionCloseChat,
			Synonyms: []string{"close chat", "exit chat", "hide chat"}},
		{Name: "chat", Category: CategoryChat, Priority: 180, Action: ActionOpenChat,
			Synonyms: []string{"chat", "go to chat", "open chat", "show chat"}},
		{Name: "start detection", Category: CategoryDetection, Priority: 170, Action: ActionStartDetection,
			Synonyms: []string{"start detection", "begin detection", "activate detection"}},
		{Name: "stop detection", Category: CategoryDetection, Priority: 160, Action: ActionStopDetection,
			Synonyms: []string{"stop detection", "end detection", "deactivate detection"}},
		{Name: "logout", Category: CategoryMeta, Priority: 150, Action: ActionLogout, Target: "Home",
			Synonyms: []string{"logout", "log out", "sign out", "exit account"}},
		{Name: "login", Category: CategoryMeta, Priority: 140, Action: ActionLogin, Target: "Login",
			Synonyms: []string{"login", "log in", "sign in"}},

		{Name: "enable voice commands", Category: CategorySettings, Priority: 130, Action: ActionSetPreference,
			Preference: PreferenceVoiceCommands, Value: true,
			Synonyms: []string{"enable voice commands", "turn on voice commands", "activate voice commands"}},
		{Name: "disable voice commands", Category: CategorySettings, Priority: 120, Action: ActionSetPreference,
			Preference: PreferenceVoiceCommands, Value: false,
			Synonyms: []string{"disable voice commands", "turn off voice commands", "deactivate voice commands"}},
		{Name: "enable audio feedback", Category: CategorySettings, Priority: 110, Action: ActionSetPreference,
			Preference: PreferenceAudioFeedback, Value: true,
			Synonyms: []string{"enable audio feedback", "turn on audio feedback", "activate audio feedback"}},
		{Name: "disable audio feedback", Category: CategorySettings, Priority: 100, Action: ActionSetPreference,
			Preference: PreferenceAudioFeedback, Value: false,
			Synonyms: []string{"disable audio feedback", "turn off audio feedback", "deactivate audio feedback"}},
		{Name: "enable location", Category: CategorySettings, Priority: 90, Action: ActionSetPreference,
			Preference: PreferenceLocation, Value: true,
			Synonyms: []string{"enable location", "turn on location", "activate location",
				"enable location for predictions", "turn on location for predictions"}},
		{Name: "disable location", Category: CategorySettings, Priority: 80, Action: ActionSetPreference,
			Preference: PreferenceLocation, Value: false,
			Synonyms: []string{"disable location", "turn off location", "deactivate location",
				"disable location for predictions", "turn off location for predictions"}},

		{Name: "read description", Category: CategoryRead, Priority: 70, Action: ActionReadSection, Section: "description",
			Synonyms: []string{"read description"}},
		{Name: "read diet", Category: CategoryRead, Priority: 60, Action: ActionReadSection, Section: "diet",
			Synonyms: []string{"read diet"}},
		{Name: "read habitat", Category: CategoryRead, Priority: 50, Action: ActionReadSection, Section: "habitat",
			Synonyms: []string{"read habitat"}},
		{Name: "read at a glance", Category: CategoryRead, Priority: 40, Action: ActionReadSection, Section: "at a glance",
			Synonyms: []string{"read at a glance"}},
		{Name: "read feeding behavior", Category: CategoryRead, Priority: 30, Action: ActionReadSection, Section: "feeding behavior",
			Synonyms: []string{"read feeding behavior"}},
		{Name: "read migration and range", Category: CategoryRead, Priority: 20, Action: ActionReadSection, Section: "migration and range",
			Synonyms: []string{"read migration and range"}},
		{Name: "stop reading", Category: CategoryRead, Priority: 10, Action: ActionStopReading,
			Synonyms: []string{"stop reading", "cancel reading", "silence", "stop"}},
	}
}

// DefaultCorrections fixes recurring mis-hearings of command vocabulary.
func DefaultCorrections() []Correction {
	return []Correction{
		{From: "for cast", To: "forecast"},
		{From: "fore cast", To: "forecast"},
		{From: "four cast", To: "forecast"},
		{From: "identity", To: "identify"},
		{From: "identifying", To: "identify"},
		{From: "setting", To: "settings"},
		{From: "chad", To: "chat"},
		{From: "detections", To: "detection"},
		{From: "detect shin", To: "detection"},
		{From: "feed back", To: "feedback"},
		{From: "log gout", To: "logout"},
		{From: "habitats", To: "habitat"},
	}
}

// DefaultTable compiles the built-in definitions and corrections.
func DefaultTable() *Table {
	t, err := NewTable(DefaultDefinitions(), DefaultCorrections())
	if err != nil {
		panic(err)
	}
	return t
}

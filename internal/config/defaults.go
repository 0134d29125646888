package config

func defaults() map[string]any {
	return map[string]any{
		"database": map[string]any{
			"max_conns": 4,
		},
		"redis": map[string]any{
			"origin":        "habitline",
			"poll_interval": "1s",
		},
		"push": map[string]any{
			"subscriber": "reminders@habitline.local",
			"ttl":        3600,
		},
		"http": map[string]any{
			"addr": ":8080",
		},
		"local": map[string]any{
			"path": "habitline.db",
		},
		"sync": map[string]any{
			"interval":          "2m",
			"poll_interval":     "5s",
			"horizon":           "168h",
			"heartbeat_timeout": "10s",
			"snooze_minutes":    []int{5, 15, 60},
			"default_snooze":    10,
		},
		"log": map[string]any{
			"level":       "info",
			"development": false,
		},
	}
}

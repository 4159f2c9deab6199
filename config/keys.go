package config

func registerCoreKeys() {
	RegisterKeys(
		KeyInfo{
			Key:         "logging.mode",
			Description: "Logger output: 'dev' for console, 'prod' for JSON",
			Type:        "string",
			Default:     "dev",
		},

		// Persistence.
		KeyInfo{
			Key:         "storage.driver",
			Description: "Record store backend: memory, sqlite or postgres",
			Type:        "string",
			Default:     "sqlite",
		},
		KeyInfo{
			Key:         "storage.sqlite.path",
			Description: "Path of the sqlite database file",
			Type:        "string",
			Default:     "mindease.db",
		},
		KeyInfo{
			Key:         "storage.postgres.dsn",
			Description: "Postgres connection string",
			Type:        "string",
		},
		KeyInfo{
			Key:         "documents.driver",
			Description: "Document store backend: 'storage' (record store) or 'firestore'",
			Type:        "string",
			Default:     "storage",
		},
		KeyInfo{
			Key:         "cache.path",
			Description: "Path of the sqlite file backing the local durable cache",
			Type:        "string",
			Default:     "mindease-cache.db",
		},

		// Firebase.
		KeyInfo{
			Key:         "firebase.projectId",
			Description: "Firebase project ID",
			Type:        "string",
		},
		KeyInfo{
			Key:         "firebase.credentialsFile",
			Description: "Service account JSON file, application default credentials are used when empty",
			Type:        "string",
		},
		KeyInfo{
			Key:         "firebase.storageBucket",
			Description: "Cloud storage bucket used for avatars",
			Type:        "string",
		},

		// Objects.
		KeyInfo{
			Key:         "objects.driver",
			Description: "Avatar object backend: memory, fs or firebase",
			Type:        "string",
			Default:     "fs",
		},
		KeyInfo{
			Key:         "objects.fs.root",
			Description: "Directory avatars are written to by the fs backend",
			Type:        "string",
			Default:     "avatars-data",
		},
		KeyInfo{
			Key:         "objects.fs.baseURL",
			Description: "Base URL that serves objects.fs.root, file:// addresses are used when empty",
			Type:        "string",
		},
		KeyInfo{
			Key:         "objects.allowedTypes",
			Description: "Content types accepted for avatar uploads",
			Type:        "[]string",
			Default:     []string{"image/jpeg", "image/png", "image/gif"},
		},

		// Identity.
		KeyInfo{
			Key:         "identity.signingKey",
			Description: "Key used to sign persisted session tokens",
			Type:        "string",
		},
		KeyInfo{
			Key:         "identity.sessionExpiration",
			Description: "Lifetime of a persisted session",
			Type:        "duration",
			Default:     "720h",
		},
		KeyInfo{
			Key:         "identity.recentLoginWindow",
			Description: "How recent a sign-in must be for email and password changes",
			Type:        "duration",
			Default:     "5m",
		},
		KeyInfo{
			Key:         "identity.resetExpiration",
			Description: "Lifetime of a password reset token",
			Type:        "duration",
			Default:     "1h",
		},
		KeyInfo{
			Key:         "identity.resetURL",
			Description: "Link included in password reset emails, the token is appended",
			Type:        "string",
			Default:     "http://localhost:3000/reset-password?token=",
		},
		KeyInfo{
			Key:         "auth.google.id",
			Description: "Google OAuth client ID",
			Type:        "string",
		},
		KeyInfo{
			Key:         "auth.google.secret",
			Description: "Google OAuth client secret",
			Type:        "string",
		},

		// Email.
		KeyInfo{
			Key:         "email.from",
			Description: "From address for outgoing mail",
			Type:        "string",
			Default:     "MindEase <no-reply@mindease.app>",
		},
		KeyInfo{
			Key:         "email.smtp.host",
			Description: "SMTP server host",
			Type:        "string",
		},
		KeyInfo{
			Key:         "email.smtp.port",
			Description: "SMTP server port",
			Type:        "int",
			Default:     587,
		},
		KeyInfo{
			Key:         "email.smtp.username",
			Description: "SMTP username",
			Type:        "string",
		},
		KeyInfo{
			Key:         "email.smtp.password",
			Description: "SMTP password",
			Type:        "string",
		},

		// Session.
		KeyInfo{
			Key:         "session.offlineLogin",
			Description: "Accept logins while offline when the cached profile's email matches, without checking the password",
			Type:        "bool",
			Default:     true,
		},

		// Network.
		KeyInfo{
			Key:         "network.probeURL",
			Description: "URL polled to detect connectivity, reachability checks are disabled when empty",
			Type:        "string",
		},
		KeyInfo{
			Key:         "network.probeInterval",
			Description: "How often connectivity is checked",
			Type:        "duration",
			Default:     "15s",
		},
	)
}

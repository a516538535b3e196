package secrets

func rule(id, description, pattern string, keywords ...string) Rule {
	return Rule{ID: id, Description: description, Pattern: pattern, Keywords: keywords}
}

// DefaultRules returns the built-in detectors. They target what executors
// tend to echo back in findings and breakpoint context: scanner
// configuration, captured request headers and connection strings.
func DefaultRules() []Rule {
	return []Rule{
		rule("aws-access-key-id", "AWS access key id",
			`(?:A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`),
		rule("generic-secret", "Password or secret assignment",
			`(?i)(?:secret|password|passwd|pwd|api[_-]?key)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			"secret", "password", "passwd", "pwd", "key"),
		rule("private-key", "PEM private key",
			`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`),
		rule("github-token", "GitHub token",
			`(?:gh[pousr]_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})`),
		rule("slack-token", "Slack token", `xox[baprs]-[A-Za-z0-9\-]{10,}`),
		rule("connection-string", "URL with embedded credentials",
			`(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?|nats|tls)://[^:\s/]+:[^@\s]+@[^\s]+`),
		rule("nats-nkey-seed", "NATS nkey seed", `\bS[UOANCX][A-Z2-7]{56}\b`),
		rule("jwt", "JSON web token", `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
		rule("bearer-token", "Bearer authorization header",
			`(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`, "bearer"),
		rule("basic-auth", "Basic authorization header",
			`(?i)basic\s+[A-Za-z0-9+/]{12,}={0,2}`, "authorization"),
		rule("session-cookie", "Session cookie captured from a request",
			`(?i)(?:session|sessid|sid|auth)[A-Za-z_-]*=[A-Za-z0-9%._-]{16,}`, "cookie"),
	}
}

package schema

import _ "embed"

// SettingsV1Schema contains the JSON schema for the devrun settings file.
//
//go:embed settings.v1.json
var SettingsV1Schema []byte

// ProjectsV1Schema contains the JSON schema for the project registry file.
//
//go:embed projects.v1.json
var ProjectsV1Schema []byte

package config

const (
	// EnvPrefix namespaces all environment variables consumed by Load.
	EnvPrefix = "PHOTARK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PHOTARK_DB_DSN"
	EnvDBHost = "PHOTARK_DB_HOST"
	EnvDBUser = "PHOTARK_DB_USER"
	EnvDBName = "PHOTARK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

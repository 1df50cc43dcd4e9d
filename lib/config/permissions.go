package config

// SecureFilePermissions for files containing sensitive data (e.g. private keys)
const SecureFilePermissions = 0o600

// StandardFilePermissions for non-sensitive files such as bundles
const StandardFilePermissions = 0o644

// StandardDirPermissions for non-sensitive directories
const StandardDirPermissions = 0o755

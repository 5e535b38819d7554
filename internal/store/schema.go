package store

const coreSchema = `
CREATE SEQUENCE IF NOT EXISTS sessions_id_seq START 1;

CREATE TABLE IF NOT EXISTS sessions (
    id              BIGINT DEFAULT nextval('sessions_id_seq') PRIMARY KEY,
    raw_path        VARCHAR NOT NULL UNIQUE,
    sanitized_path  VARCHAR NOT NULL,
    command         VARCHAR NOT NULL,
    command_line    VARCHAR NOT NULL,
    started_at      TIMESTAMP NOT NULL,
    ended_at        TIMESTAMP,
    size_bytes      BIGINT,
    sanitized       BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at      TIMESTAMP
);
`

package session

import tokens "github.com/dropDatabas3/passgate/internal/security/token"

func (i *Issued) IDHashForTest() string { return tokens.SHA256Base64URL(i.Token) }

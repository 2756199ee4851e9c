package auth

import (
	"net/http"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

const (
	wsseNamespace    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	passwordTextType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

// SOAPSecurityStrategy carries WS-Security UsernameToken credentials. The
// security material travels in the SOAP envelope, not in HTTP headers, so
// Apply is a no-op; envelope builders call SecurityHeader.
type SOAPSecurityStrategy struct {
	Username string
	Password string
	logger   *zap.Logger
}

func (s *SOAPSecurityStrategy) Apply(http.Header) {
	if s.Username == "" || s.Password == "" {
		s.log().Warn("SOAP username or password not found")
	}
}

func (s *SOAPSecurityStrategy) Type() Type { return TypeSOAPSecurity }

// SecurityHeader builds the soap:Header element holding a WS-Security
// UsernameToken with a plaintext password.
func (s *SOAPSecurityStrategy) SecurityHeader() (string, error) {
	doc := etree.NewDocument()

	header := doc.CreateElement("soap:Header")
	security := header.CreateElement("wsse:Security")
	security.CreateAttr("xmlns:wsse", wsseNamespace)

	userToken := security.CreateElement("wsse:UsernameToken")
	userToken.CreateElement("wsse:Username").SetText(s.Username)
	password := userToken.CreateElement("wsse:Password")
	password.CreateAttr("Type", passwordTextType)
	password.SetText(s.Password)

	doc.Indent(2)
	return doc.WriteToString()
}

func (s *SOAPSecurityStrategy) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

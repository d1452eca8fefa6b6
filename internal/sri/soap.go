package sri

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	receptionNamespace     = "http://ec.gob.sri.ws.recepcion"
	authorizationNamespace = "http://ec.gob.sri.ws.autorizacion"
	soapEnvelopeNamespace  = "http://schemas.xmlsoap.org/soap/envelope/"

	receptionAccepted = "RECIBIDA"
	maxResponseBytes  = 4 << 20
)

// Endpoints lists the reception and authorization service URLs per
// environment. A trailing ?wsdl is stripped before posting.
type Endpoints struct {
	ReceptionTest     string
	ReceptionProd     string
	AuthorizationTest string
	AuthorizationProd string
}

// DefaultEndpoints are the public offline web services.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ReceptionTest:     "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline?wsdl",
		ReceptionProd:     "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline?wsdl",
		AuthorizationTest: "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline?wsdl",
		AuthorizationProd: "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline?wsdl",
	}
}

func (e Endpoints) reception(env Environment) string {
	if env == EnvironmentProd {
		return serviceURL(e.ReceptionProd)
	}
	return serviceURL(e.ReceptionTest)
}

func (e Endpoints) authorization(env Environment) string {
	if env == EnvironmentProd {
		return serviceURL(e.AuthorizationProd)
	}
	return serviceURL(e.AuthorizationTest)
}

func serviceURL(raw string) string {
	return strings.TrimSuffix(strings.TrimSuffix(raw, "?wsdl"), "?WSDL")
}

// SOAPClient talks to the SRI offline SOAP services.
type SOAPClient struct {
	endpoints  Endpoints
	httpClient *http.Client
}

// NewSOAPClient constructs a client. A nil httpClient gets a 30s timeout.
func NewSOAPClient(endpoints Endpoints, httpClient *http.Client) *SOAPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SOAPClient{endpoints: endpoints, httpClient: httpClient}
}

// Submit calls validarComprobante with the base64 encoded signed document.
func (c *SOAPClient) Submit(ctx context.Context, signedXML string, env Environment) (ReceptionResult, error) {
	body := validarComprobanteEnvelope(base64.StdEncoding.EncodeToString([]byte(signedXML)))
	data, err := c.post(ctx, c.endpoints.reception(env), body)
	if err != nil {
		return ReceptionResult{}, err
	}
	return parseReception(data)
}

// CheckAuthorization calls autorizacionComprobante for the access key.
func (c *SOAPClient) CheckAuthorization(ctx context.Context, accessKey string, env Environment) (AuthorizationResult, error) {
	body := autorizacionComprobanteEnvelope(accessKey)
	data, err := c.post(ctx, c.endpoints.authorization(env), body)
	if err != nil {
		return AuthorizationResult{}, err
	}
	return parseAuthorization(data)
}

func (c *SOAPClient) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConnection, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrConnection, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrConnection, resp.StatusCode)
	}
	return data, nil
}

func validarComprobanteEnvelope(encoded string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="` + soapEnvelopeNamespace + `" xmlns:ec="` + receptionNamespace + `">`)
	buf.WriteString(`<soapenv:Header/><soapenv:Body><ec:validarComprobante><xml>`)
	buf.WriteString(encoded)
	buf.WriteString(`</xml></ec:validarComprobante></soapenv:Body></soapenv:Envelope>`)
	return buf.Bytes()
}

func autorizacionComprobanteEnvelope(accessKey string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="` + soapEnvelopeNamespace + `" xmlns:ec="` + authorizationNamespace + `">`)
	buf.WriteString(`<soapenv:Header/><soapenv:Body><ec:autorizacionComprobante><claveAccesoComprobante>`)
	_ = xml.EscapeText(&buf, []byte(accessKey))
	buf.WriteString(`</claveAccesoComprobante></ec:autorizacionComprobante></soapenv:Body></soapenv:Envelope>`)
	return buf.Bytes()
}

type soapMessage struct {
	Identifier     string `xml:"identificador" json:"identifier"`
	Text           string `xml:"mensaje" json:"message"`
	AdditionalInfo string `xml:"informacionAdicional" json:"additionalInfo,omitempty"`
	Type           string `xml:"tipo" json:"type,omitempty"`
}

type receptionEnvelope struct {
	XMLName  xml.Name `xml:"Envelope"`
	Response struct {
		State        string `xml:"estado" json:"state"`
		Comprobantes []struct {
			AccessKey string        `xml:"claveAcceso" json:"accessKey"`
			Messages  []soapMessage `xml:"mensajes>mensaje" json:"messages,omitempty"`
		} `xml:"comprobantes>comprobante" json:"documents,omitempty"`
	} `xml:"Body>validarComprobanteResponse>RespuestaRecepcionComprobante"`
}

type authorizationEnvelope struct {
	XMLName  xml.Name `xml:"Envelope"`
	Response struct {
		AccessKey      string `xml:"claveAccesoConsultada" json:"accessKey"`
		Count          string `xml:"numeroComprobantes" json:"count"`
		Authorizations []struct {
			State       string        `xml:"estado" json:"state"`
			Number      string        `xml:"numeroAutorizacion" json:"authorizationNumber,omitempty"`
			Date        string        `xml:"fechaAutorizacion" json:"authorizationDate,omitempty"`
			Environment string        `xml:"ambiente" json:"environment,omitempty"`
			Messages    []soapMessage `xml:"mensajes>mensaje" json:"messages,omitempty"`
		} `xml:"autorizaciones>autorizacion" json:"authorizations,omitempty"`
	} `xml:"Body>autorizacionComprobanteResponse>RespuestaAutorizacionComprobante"`
}

func parseReception(data []byte) (ReceptionResult, error) {
	var env receptionEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return ReceptionResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	state := strings.TrimSpace(env.Response.State)
	if state == "" {
		return ReceptionResult{}, fmt.Errorf("%w: missing reception state", ErrInvalidResponse)
	}
	var messages []Message
	for _, c := range env.Response.Comprobantes {
		messages = append(messages, convertMessages(c.Messages)...)
	}
	raw, err := json.Marshal(env.Response)
	if err != nil {
		return ReceptionResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return ReceptionResult{
		Accepted: state == receptionAccepted,
		State:    state,
		Messages: messages,
		Raw:      raw,
	}, nil
}

func parseAuthorization(data []byte) (AuthorizationResult, error) {
	var env authorizationEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return AuthorizationResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	raw, err := json.Marshal(env.Response)
	if err != nil {
		return AuthorizationResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(env.Response.Authorizations) == 0 {
		return AuthorizationResult{Status: StatusInProcess, Raw: raw}, nil
	}
	auth := env.Response.Authorizations[0]
	result := AuthorizationResult{
		Status:   AuthorizationStatus(strings.TrimSpace(auth.State)),
		Number:   strings.TrimSpace(auth.Number),
		Messages: convertMessages(auth.Messages),
		Raw:      raw,
	}
	switch result.Status {
	case StatusAuthorized, StatusNotAuthorized, StatusInProcess:
	default:
		return AuthorizationResult{}, fmt.Errorf("%w: unknown authorization state %q", ErrInvalidResponse, auth.State)
	}
	if ts, ok := parseAuthorizationDate(auth.Date); ok {
		result.AuthorizedAt = ts
	}
	return result, nil
}

var authorizationDateLayouts = []string{
	time.RFC3339,
	"02/01/2006 15:04:05",
}

func parseAuthorizationDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range authorizationDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func convertMessages(in []soapMessage) []Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{
			Identifier:     strings.TrimSpace(m.Identifier),
			Text:           strings.TrimSpace(m.Text),
			AdditionalInfo: strings.TrimSpace(m.AdditionalInfo),
			Type:           MessageType(strings.TrimSpace(m.Type)),
		})
	}
	return out
}

package sri

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const receptionAcceptedBody = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<ns2:validarComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.recepcion">
<RespuestaRecepcionComprobante><estado>RECIBIDA</estado><comprobantes/></RespuestaRecepcionComprobante>
</ns2:validarComprobanteResponse></soap:Body></soap:Envelope>`

const receptionReturnedBody = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<ns2:validarComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.recepcion">
<RespuestaRecepcionComprobante><estado>DEVUELTA</estado><comprobantes><comprobante>
<claveAcceso>1405202401179001234500110010010000000011234567811</claveAcceso>
<mensajes><mensaje><identificador>43</identificador><mensaje>CLAVE ACCESO REGISTRADA</mensaje><tipo>ERROR</tipo></mensaje></mensajes>
</comprobante></comprobantes></RespuestaRecepcionComprobante>
</ns2:validarComprobanteResponse></soap:Body></soap:Envelope>`

const authorizedBody = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<ns2:autorizacionComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
<RespuestaAutorizacionComprobante><claveAccesoConsultada>KEY</claveAccesoConsultada><numeroComprobantes>1</numeroComprobantes>
<autorizaciones><autorizacion><estado>AUTORIZADO</estado><numeroAutorizacion>1405202401179001234500110010010000000011234567811</numeroAutorizacion>
<fechaAutorizacion>2024-05-14T10:20:30-05:00</fechaAutorizacion><ambiente>PRUEBAS</ambiente><mensajes/></autorizacion></autorizaciones>
</RespuestaAutorizacionComprobante></ns2:autorizacionComprobanteResponse></soap:Body></soap:Envelope>`

const pendingBody = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<ns2:autorizacionComprobanteResponse xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
<RespuestaAutorizacionComprobante><claveAccesoConsultada>KEY</claveAccesoConsultada><numeroComprobantes>0</numeroComprobantes><autorizaciones/>
</RespuestaAutorizacionComprobante></ns2:autorizacionComprobanteResponse></soap:Body></soap:Envelope>`

func soapServer(t *testing.T, status int, body string, seen *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if seen != nil {
			*seen = string(data)
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func endpointsFor(url string) Endpoints {
	return Endpoints{
		ReceptionTest:     url + "/recepcion?wsdl",
		ReceptionProd:     url + "/recepcion?wsdl",
		AuthorizationTest: url + "/autorizacion?wsdl",
		AuthorizationProd: url + "/autorizacion?wsdl",
	}
}

func TestSOAPSubmitAccepted(t *testing.T) {
	var seen string
	srv := soapServer(t, http.StatusOK, receptionAcceptedBody, &seen)
	client := NewSOAPClient(endpointsFor(srv.URL), srv.Client())

	res, err := client.Submit(context.Background(), "<factura/>", EnvironmentTest)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, "RECIBIDA", res.State)
	require.Contains(t, seen, "<ec:validarComprobante><xml>"+base64.StdEncoding.EncodeToString([]byte("<factura/>"))+"</xml>")
	require.NotEmpty(t, res.Raw)
}

func TestSOAPSubmitReturned(t *testing.T) {
	srv := soapServer(t, http.StatusOK, receptionReturnedBody, nil)
	client := NewSOAPClient(endpointsFor(srv.URL), srv.Client())

	res, err := client.Submit(context.Background(), "<factura/>", EnvironmentProd)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Len(t, res.Messages, 1)
	require.Equal(t, "[43] CLAVE ACCESO REGISTRADA", res.Messages[0].String())
	require.Equal(t, MessageError, res.Messages[0].Type)
}

func TestSOAPCheckAuthorization(t *testing.T) {
	var seen string
	srv := soapServer(t, http.StatusOK, authorizedBody, &seen)
	client := NewSOAPClient(endpointsFor(srv.URL), srv.Client())

	res, err := client.CheckAuthorization(context.Background(), "KEY", EnvironmentTest)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, res.Status)
	require.Equal(t, "1405202401179001234500110010010000000011234567811", res.Number)
	require.Equal(t, 2024, res.AuthorizedAt.Year())
	require.True(t, strings.Contains(seen, "<claveAccesoComprobante>KEY</claveAccesoComprobante>"))
}

func TestSOAPCheckAuthorizationWithoutEntriesIsInProcess(t *testing.T) {
	srv := soapServer(t, http.StatusOK, pendingBody, nil)
	client := NewSOAPClient(endpointsFor(srv.URL), srv.Client())

	res, err := client.CheckAuthorization(context.Background(), "KEY", EnvironmentTest)
	require.NoError(t, err)
	require.Equal(t, StatusInProcess, res.Status)
}

func TestSOAPErrors(t *testing.T) {
	srv := soapServer(t, http.StatusInternalServerError, "boom", nil)
	client := NewSOAPClient(endpointsFor(srv.URL), srv.Client())
	_, err := client.CheckAuthorization(context.Background(), "KEY", EnvironmentTest)
	require.ErrorIs(t, err, ErrConnection)

	garbage := soapServer(t, http.StatusOK, "not xml at all <", nil)
	client = NewSOAPClient(endpointsFor(garbage.URL), garbage.Client())
	_, err = client.Submit(context.Background(), "<factura/>", EnvironmentTest)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

// Package pacsrest queries the dcm4chee-arc REST interface for archived
// instances.
package pacsrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// lookupTimeout bounds one instance query.
const lookupTimeout = 20 * time.Second

// Dataset is one DICOM JSON object keyed by 8-hex-digit tag.
type Dataset map[string]any

// LookupResult is the outcome of one instance query.
type LookupResult struct {
	// Found reports a 200 response carrying at least one instance object.
	Found bool
	// HTTPStatus is the numeric status as text, or "ERR" on transport
	// failure, mirroring the validation artifact column.
	HTTPStatus string
	// Detail carries the error text when the query failed.
	Detail string
	// Dataset is the first instance object of the response, when found.
	Dataset Dataset
}

// Client issues instance lookups against one archive endpoint.
type Client struct {
	restHost string
	aetDest  string
	http     *http.Client
}

// NewClient builds a client for `http://{restHost}/dcm4chee-arc/aets/{aetDest}/rs`.
func NewClient(restHost, aetDest string) *Client {
	return &Client{
		restHost: strings.TrimSpace(restHost),
		aetDest:  strings.TrimSpace(aetDest),
		http:     &http.Client{Timeout: lookupTimeout},
	}
}

// InstanceURL renders the query URL for one IUID.
func (c *Client) InstanceURL(iuid string) string {
	return fmt.Sprintf("http://%s/dcm4chee-arc/aets/%s/rs/instances?SOPInstanceUID=%s",
		c.restHost, c.aetDest, url.QueryEscape(iuid))
}

// LookupInstance queries the archive for one IUID. Transport errors yield
// HTTPStatus "ERR"; HTTP errors yield the numeric status; a 200 with an
// empty list is a miss.
func (c *Client) LookupInstance(ctx context.Context, iuid string) LookupResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.InstanceURL(iuid), nil)
	if err != nil {
		return LookupResult{HTTPStatus: "ERR", Detail: err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return LookupResult{HTTPStatus: "ERR", Detail: err.Error()}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)

	if resp.StatusCode >= 400 {
		return LookupResult{HTTPStatus: status, Detail: "HTTP " + status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return LookupResult{HTTPStatus: "ERR", Detail: err.Error()}
	}

	result := LookupResult{HTTPStatus: status}

	if strings.TrimSpace(string(body)) == "" {
		return result
	}

	var instances []Dataset
	if jsonErr := json.Unmarshal(body, &instances); jsonErr != nil {
		result.Detail = jsonErr.Error()

		return result
	}

	if len(instances) > 0 {
		result.Found = true
		result.Dataset = instances[0]
	}

	return result
}

// DicomText extracts the first textual value of a tag, handling both the
// `{Value:[scalar]}` and `{Value:[{Alphabetic:...}]}` shapes of DICOM JSON.
func (d Dataset) DicomText(tag string) string {
	elem, ok := d[tag].(map[string]any)
	if !ok {
		return ""
	}

	values, ok := elem["Value"].([]any)
	if !ok || len(values) == 0 {
		return ""
	}

	switch first := values[0].(type) {
	case map[string]any:
		if alpha, present := first["Alphabetic"]; present {
			return strings.TrimSpace(fmt.Sprint(alpha))
		}

		for _, v := range first {
			if v != nil {
				return strings.TrimSpace(fmt.Sprint(v))
			}
		}

		return ""
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(first))
	}
}

// Report field tags extracted for the full validation reports.
const (
	TagPatientName      = "00100010"
	TagBirthDate        = "00100030"
	TagPatientID        = "00100020"
	TagAccessionNumber  = "00080050"
	TagSex              = "00100040"
	TagStudyDate        = "00080020"
	TagStudyDescription = "00081030"
	TagStudyUID         = "0020000D"
)

// ReportFields maps a dataset to the patient/study columns of the full
// validation reports.
func (d Dataset) ReportFields() map[string]string {
	return map[string]string{
		"nome_paciente":    d.DicomText(TagPatientName),
		"data_nascimento":  d.DicomText(TagBirthDate),
		"prontuario":       d.DicomText(TagPatientID),
		"accession_number": d.DicomText(TagAccessionNumber),
		"sexo":             d.DicomText(TagSex),
		"data_exame":       d.DicomText(TagStudyDate),
		"descricao_exame":  d.DicomText(TagStudyDescription),
		"study_uid":        d.DicomText(TagStudyUID),
	}
}

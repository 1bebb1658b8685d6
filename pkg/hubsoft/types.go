package hubsoft

import "encoding/json"

// apiResponse is the envelope every HubSoft endpoint returns. The
// upstream spells the success status inconsistently ("success" in most
// endpoints, "suscess" in a few legacy ones), so both are accepted.
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"dados"`
}

func (r apiResponse) ok() bool {
	return r.Status == "success" || r.Status == "suscess"
}

// ClientInfo is the subscriber snapshot returned by a CPF lookup.
type ClientInfo struct {
	Name          string `json:"nome_razaosocial"`
	Code          string `json:"codigo_cliente"`
	ServiceName   string `json:"nome_servico"`
	ServiceStatus string `json:"status_servico"`
	PlanName      string `json:"nome_plano"`
}

// clientLookupData matches the CPF lookup payload.
type clientLookupData struct {
	Clients []struct {
		Name     string `json:"nome_razaosocial"`
		Code     string `json:"codigo_cliente"`
		Services []struct {
			Name   string `json:"nome"`
			Status string `json:"status"`
			Plan   string `json:"nome_plano"`
		} `json:"servicos"`
	} `json:"clientes"`
}

// Atendimento is one upstream support ticket.
type Atendimento struct {
	ID          string `json:"id_atendimento"`
	Protocol    string `json:"protocolo"`
	Status      string `json:"status"`
	Description string `json:"descricao"`
	OpenedAt    string `json:"data_cadastro"`
}

// CreateTicketRequest opens a new atendimento.
type CreateTicketRequest struct {
	ClientCPF   string `json:"cpf_cnpj"`
	Description string `json:"descricao"`
	TypeID      string `json:"id_tipo_atendimento,omitempty"`
	Urgency     string `json:"prioridade,omitempty"`
}

// CreateTicketResult is the upstream identity of a created ticket.
type CreateTicketResult struct {
	ID       string `json:"id_atendimento"`
	Protocol string `json:"protocolo"`
	Status   string `json:"status"`
}

// AtendimentoPage is one page of the paginated atendimento listing.
type AtendimentoPage struct {
	Items      []Atendimento `json:"atendimentos"`
	Page       int           `json:"pagina"`
	TotalPages int           `json:"total_paginas"`
}

package docs

import _ "embed"

//go:embed campaign-api.openapi.yaml
var embeddedCampaignOpenAPI []byte

//go:embed swagger.html
var embeddedCampaignSwaggerHTML []byte

// CampaignOpenAPI is the OpenAPI document served at /docs/openapi.yaml.
var CampaignOpenAPI = embeddedCampaignOpenAPI

// CampaignSwaggerHTML renders CampaignOpenAPI with Swagger UI.
var CampaignSwaggerHTML = embeddedCampaignSwaggerHTML
